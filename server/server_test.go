package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/s00inx/staticserver/server/engine"
	"github.com/s00inx/staticserver/server/protocol"
)

var (
	indexBody = []byte("<b>hi</b>\n") // 10 bytes
	logoBody  = bytes.Repeat([]byte{0x89, 'P', 'N', 'G', 0}, 100)
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	dir := t.TempDir()
	for name, body := range map[string][]byte{
		"html.index":       indexBody,
		"logo.png":         logoBody,
		"page.htm":         []byte("<p>page</p>"),
		"docs/html.index":  []byte("docs index"),
		"docs/readme":      []byte("plain"),
		"docs/nested/a.js": []byte("js"),
	} {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := ParseArgs([]string{"0", dir})
	if err != nil {
		t.Fatal(err)
	}

	logger, _ := logtest.NewNullLogger()
	srv, err := New(cfg, append([]Option{WithLogger(logger)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	run(t, srv)
	return srv
}

// run serves until the test ends, cleanup waits for the loop to close its fds
func run(t *testing.T, srv *Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
}

func request(t *testing.T, srv *Server, line string) string {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(resp)
}

func ok(ctype string, length int, body []byte) string {
	return fmt.Sprintf("HTTP/1.0 200 OK\r\nContent-type: %s\r\nContent-length: %d\r\n\r\n", ctype, length) + string(body)
}

func notFound(msg string) string {
	return fmt.Sprintf("HTTP/1.0 404 Not Found\r\nContent-type: text\r\nContent-length: %d\r\n\r\n%s", len(msg), msg)
}

func TestServeScenario(t *testing.T) {
	srv := startServer(t)

	tests := []struct {
		name string
		line string
		want string
	}{
		{"get root serves index", "GET / HTTP/1.0\r\n", ok("text/html", 10, indexBody)},
		{"head png has no body", "HEAD /logo.png HTTP/1.0\r\n", ok("image/png", 500, nil)},
		{"get png", "GET /logo.png HTTP/1.0\r\n", ok("image/png", 500, logoBody)},
		{"get htm", "GET /page.htm\r\n", ok("text/html", 11, []byte("<p>page</p>"))},
		{"missing file", "GET /missing.txt HTTP/1.0\r\n", notFound(protocol.MsgFileNotFound)},
		{"post is not supported", "POST /logo.png HTTP/1.0\r\n", notFound(protocol.MsgUnsupportedMethod)},
		{"put is not supported", "PUT /nope HTTP/1.0\r\n", notFound(protocol.MsgUnsupportedMethod)},
		{"no target", "GET\r\n", notFound(protocol.MsgFileNotFound)},
		{"case normalized", "get /LOGO.PNG HTTP/1.0\r\n", ok("image/png", 500, logoBody)},
		{"sub directory index", "GET /docs/ HTTP/1.0\r\n", ok("text/html", 10, []byte("docs index"))},
		{"directory without slash", "GET /docs HTTP/1.0\r\n", notFound(protocol.MsgFileNotFound)},
		{"directory without index", "GET /docs/nested/ HTTP/1.0\r\n", notFound(protocol.MsgFileNotFound)},
		{"no suffix is plain text", "HEAD /docs/readme HTTP/1.0\r\n", ok("text/plain", 5, nil)},
		{"unknown suffix is plain text", "GET /docs/nested/a.js\r\n", ok("text/plain", 2, []byte("js"))},
		{"no escape from root", "GET /../../../../etc/passwd HTTP/1.0\r\n", notFound(protocol.MsgFileNotFound)},
		{"headers after line ignored", "HEAD / HTTP/1.0\r\nHost: localhost\r\nUser-Agent: test\r\n\r\n", ok("text/html", 10, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := request(t, srv, tt.line); got != tt.want {
				t.Errorf("got  %q\nwant %q", got, tt.want)
			}
		})
	}
}

func TestServeLargeFile(t *testing.T) {
	dir := t.TempDir()
	body := bytes.Repeat([]byte("static-file-server "), 1<<16) // ~1.2 MiB
	if err := os.WriteFile(filepath.Join(dir, "big.html"), body, 0o644); err != nil {
		t.Fatal(err)
	}

	logger, _ := logtest.NewNullLogger()
	srv, err := New(Config{Port: 0, Dir: dir}, WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	run(t, srv)

	got := request(t, srv, "GET /big.html HTTP/1.0\r\n")
	if want := ok("text/html", len(body), body); got != want {
		t.Errorf("got %d bytes, want %d", len(got), len(want))
	}
}

func TestRunStopsBeforeDirRemoved(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	t.Run("serve", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
			t.Fatal(err)
		}
		srv, err := New(Config{Port: 0, Dir: dir}, WithLogger(logger))
		if err != nil {
			t.Fatal(err)
		}
		run(t, srv)

		if got := request(t, srv, "GET /a.txt\r\n"); got != ok("text/plain", 1, []byte("a")) {
			t.Errorf("got %q", got)
		}
	})

	// subtest cleanups are done here, the loop must have returned already
	if last := hook.LastEntry(); last == nil || last.Message != "event loop stopped" {
		t.Errorf("last entry %v, want event loop stopped", last)
	}
}

func TestServeKeepsRunningAfterIdle(t *testing.T) {
	srv := startServer(t, WithEngineOptions(engine.WithIdleTimeout(10*time.Millisecond)))

	time.Sleep(50 * time.Millisecond)
	if got := request(t, srv, "HEAD /logo.png\r\n"); got != ok("image/png", 500, nil) {
		t.Errorf("got %q", got)
	}
}

// store that lies about existence, to cover failures after the check
type flakyStore struct {
	lenErr, readErr error
}

func (f flakyStore) Exists(string) bool { return true }

func (f flakyStore) Length(string) (int64, error) { return 3, f.lenErr }

func (f flakyStore) ReadAll(string) ([]byte, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return []byte("abcd"), nil
}

func TestRespondStoreFailures(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	boom := errors.New("boom")

	tests := []struct {
		name   string
		store  flakyStore
		method string
		want   string
		warned bool
	}{
		{"stat fails", flakyStore{lenErr: boom}, "HEAD", notFound(protocol.MsgFileNotFound), true},
		{"read fails", flakyStore{readErr: boom}, "GET", notFound(protocol.MsgFileNotFound), true},
		{"head skips read", flakyStore{readErr: boom}, "HEAD", ok("text/plain", 3, nil), false},
		{"length follows content", flakyStore{}, "GET", ok("text/plain", 4, []byte("abcd")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook.Reset()
			srv := &Server{store: tt.store, log: logger}
			sess := &engine.Session{Req: engine.Request{Method: tt.method, Target: "/x.txt"}}

			if got := string(srv.Respond(sess)); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}

			warned := false
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.WarnLevel {
					warned = true
				}
			}
			if warned != tt.warned {
				t.Errorf("warned=%v", warned)
			}
		})
	}
}

func TestNewBindError(t *testing.T) {
	srv := startServer(t)

	logger, _ := logtest.NewNullLogger()
	_, err := New(Config{Port: srv.Port(), Dir: t.TempDir()}, WithLogger(logger))
	if err == nil {
		t.Fatal("expected bind error")
	}
}

func TestNewBadDirectory(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	if _, err := New(Config{Dir: filepath.Join(t.TempDir(), "nope")}, WithLogger(logger)); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
