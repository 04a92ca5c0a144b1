package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chamberworks.ai/internal/observerproto"
	"chamberworks.ai/internal/sim/world"
)

// maxRadius mirrors the clamp the world applies to subscriptions.
const maxRadius = 1024

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[observer] ", log.LstdFlags)
	}
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		counts := make([]int, 0, len(cfg.Chamber.SpeedFactors))
		for n := range cfg.Chamber.SpeedFactors {
			counts = append(counts, n)
		}
		sort.Ints(counts)
		factors := make([]int, 0, len(counts))
		for _, n := range counts {
			factors = append(factors, cfg.Chamber.SpeedFactors[n])
		}

		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.ID,
			Tick:            s.world.CurrentTick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz:         cfg.TickRateHz,
				MaxProcessingSteps: cfg.Chamber.MaxProcessingSteps,
				SpeedFactors:       factors,
			},
			Recipes: []string{},
		}
		if cats := s.world.Catalogs(); cats != nil {
			resp.Recipes = cats.Recipes.IDs()
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func writeError(conn *websocket.Conn, code, msg string) {
	b, _ := json.Marshal(observerproto.ErrorMsg{
		Type:            observerproto.TypeError,
		ProtocolVersion: observerproto.Version,
		Code:            code,
		Message:         msg,
	})
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// parseSubscribe decodes a SUBSCRIBE message and returns an observer error
// code when it is not acceptable.
func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, string) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, observerproto.ErrBadRequest
	}
	if sub.Type != observerproto.TypeSubscribe {
		return sub, observerproto.ErrBadRequest
	}
	if sub.ProtocolVersion != observerproto.Version {
		return sub, observerproto.ErrProtoVersion
	}
	normalizeSubscribe(&sub)
	return sub, ""
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, code := parseSubscribe(msg)
		if code != "" {
			writeError(conn, code, "expected SUBSCRIBE "+observerproto.Version)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := "O" + uuid.NewString()
		tickOut := make(chan []byte, 8)

		joinReq := world.ObserverJoinRequest{
			SessionID: sid,
			TickOut:   tickOut,
			Center:    sub.Center,
			Radius:    sub.Radius,
		}
		select {
		case s.world.ObserverRequests() <- world.ObserverRequest{Join: &joinReq}:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		s.log.Printf("observer %s joined from %s (radius %d)", sid, r.RemoteAddr, sub.Radius)
		defer func() {
			select {
			case s.world.ObserverRequests() <- world.ObserverRequest{Leave: sid}:
			case <-time.After(5 * time.Second):
				s.log.Printf("observer %s: world did not take the leave request", sid)
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-tickOut:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, code := parseSubscribe(msg)
			if code != "" {
				continue
			}
			req := world.ObserverSubscribeRequest{
				SessionID: sid,
				Center:    sub.Center,
				Radius:    sub.Radius,
			}
			select {
			case s.world.ObserverRequests() <- world.ObserverRequest{Subscribe: &req}:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.Radius < 0 {
		sub.Radius = 0
	}
	if sub.Radius > maxRadius {
		sub.Radius = maxRadius
	}
}

// IsLoopbackRemote reports whether an http.Request.RemoteAddr is a loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
