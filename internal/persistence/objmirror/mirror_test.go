package objmirror

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	keys  []string
}

func (f *fakeUploader) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("unavailable")
	}
	f.keys = append(f.keys, key)
	return nil
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMirrorUploadsWithRetry(t *testing.T) {
	base := t.TempDir()
	snap := filepath.Join(base, "worlds", "w1", "snapshots", "3000.snap.zst")
	writeFile(t, snap, "snap")

	up := &fakeUploader{fails: 2}
	m := NewMirror(up, base, "/backups/", 1, 4, nil)
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue(snap)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.snap.zst"))
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "backups/worlds/w1/snapshots/3000.snap.zst" {
		t.Fatalf("keys = %v", up.keys)
	}
	st := m.Stats()
	if st.EnqueuedTotal != 2 || st.UploadedTotal != 1 || st.FailedTotal != 1 || st.LastSuccessUnix == 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMirrorGivesUpAfterAttempts(t *testing.T) {
	base := t.TempDir()
	p := filepath.Join(base, "a.jsonl.zst")
	writeFile(t, p, "x")

	up := &fakeUploader{fails: 10}
	m := NewMirror(up, base, "", 1, 1, nil)
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue(p)
	m.Close()
	if st := m.Stats(); st.FailedTotal != 1 || st.UploadedTotal != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if up.fails != 10-m.attempts {
		t.Fatalf("attempts used = %d", 10-up.fails)
	}
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if st := m.Stats(); st != (Stats{}) {
		t.Fatalf("stats = %+v", st)
	}
}

func TestClientSignsPut(t *testing.T) {
	var gotPath, gotAuth, gotDate, gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.Header.Get("x-amz-date")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if r.Method != http.MethodPut {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "bucket", "", Credentials{AccessKeyID: "AKID", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) }

	p := filepath.Join(t.TempDir(), "12.snap.zst")
	writeFile(t, p, "payload")
	if err := c.PutFile(context.Background(), "/w1/snapshots/12.snap.zst", p); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if gotPath != "/bucket/w1/snapshots/12.snap.zst" || gotBody != "payload" || gotType != "application/zstd" {
		t.Fatalf("path=%s body=%q type=%s", gotPath, gotBody, gotType)
	}
	if gotDate != "20261001T120000Z" {
		t.Fatalf("x-amz-date = %s", gotDate)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/20261001/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("authorization = %s", gotAuth)
	}
}

func TestClientReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "bucket", "us-east-1", Credentials{AccessKeyID: "a", SecretAccessKey: "b"})
	p := filepath.Join(t.TempDir(), "f")
	writeFile(t, p, "x")
	err := c.PutFile(context.Background(), "f", p)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err = %v", err)
	}
	if err := c.PutFile(context.Background(), "  ", p); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient("", "b", "", Credentials{AccessKeyID: "a", SecretAccessKey: "s"}); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
	c, err := NewClient("example.r2.dev", "b", "", Credentials{AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil || c.endpoint != "https://example.r2.dev" || c.region != "auto" {
		t.Fatalf("client = %+v, %v", c, err)
	}
}
