package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"chamberworks.ai/internal/sim/world"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/snapshot"
	req, _ := http.NewRequest(http.MethodPost, u, nil)
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

// buildCommand turns command-line flags into a world command.
func buildCommand(typ, pos, facing, item string, count int, fluid string, amount int, power float64, sides string, on bool) (world.Command, error) {
	cmd := world.Command{
		Type:   strings.ToUpper(strings.TrimSpace(typ)),
		Facing: strings.ToUpper(strings.TrimSpace(facing)),
		Item:   strings.TrimSpace(item),
		Count:  count,
		Fluid:  strings.TrimSpace(fluid),
		Amount: amount,
		Power:  power,
		On:     on,
	}
	if cmd.Type == "" {
		return cmd, fmt.Errorf("missing -type")
	}
	if strings.TrimSpace(pos) != "" {
		p, err := parseVec3(pos)
		if err != nil {
			return cmd, fmt.Errorf("bad -pos: %w", err)
		}
		cmd.Pos = p
	}
	if s := strings.TrimSpace(sides); s != "" {
		for _, name := range strings.Split(s, ",") {
			cmd.Sides = append(cmd.Sides, strings.ToUpper(strings.TrimSpace(name)))
		}
	}
	return cmd, nil
}

func commandCmd(args []string) {
	fs := flag.NewFlagSet("command", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	typ := fs.String("type", "", "command type (e.g. PLACE_CHAMBER, INSERT_ITEM)")
	pos := fs.String("pos", "", "block position x,y,z")
	facing := fs.String("facing", "", "facing for PLACE_CHAMBER")
	item := fs.String("item", "", "item id")
	count := fs.Int("count", 0, "item count")
	fluid := fs.String("fluid", "", "fluid id")
	amount := fs.Int("amount", 0, "fluid amount (mB)")
	power := fs.Float64("power", 0, "AE power for INJECT_POWER/CHARGE_GRID")
	sides := fs.String("sides", "", "comma-separated output sides")
	on := fs.Bool("on", false, "flag for SET_AUTO_EXPORT")
	_ = fs.Parse(args)

	cmd, err := buildCommand(*typ, *pos, *facing, *item, *count, *fluid, *amount, *power, *sides, *on)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	body, _ := json.Marshal(cmd)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/commands"
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
