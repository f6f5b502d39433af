package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"
)

// ServerEnv is an isolated place to run a magicscan server: a free port, a
// private home directory and a config file path inside it. It does not import
// the server package so server tests can use it.
type ServerEnv struct {
	Host       string
	Port       string
	HomeDir    string
	ConfigFile string
	Logger     *slog.Logger
}

// NewServerEnv reserves a port and a temporary home for t.
func NewServerEnv(t *testing.T) ServerEnv {
	t.Helper()

	port, err := FindFreePort()
	if err != nil {
		t.Fatalf("no free port for the API server: %v", err)
	}
	dir := t.TempDir()

	return ServerEnv{
		Host:       "127.0.0.1",
		Port:       port,
		HomeDir:    dir,
		ConfigFile: filepath.Join(dir, "config.yaml"),
		Logger:     Logger(t),
	}
}

// WriteConfig writes raw YAML to the env's config file.
func (e ServerEnv) WriteConfig(t *testing.T, yaml string) {
	t.Helper()
	if err := os.WriteFile(e.ConfigFile, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write %s: %v", e.ConfigFile, err)
	}
}

// URL is the base URL the server will listen on.
func (e ServerEnv) URL() string {
	return "http://" + net.JoinHostPort(e.Host, e.Port)
}

// Logger logs at debug level to stderr under -v and discards otherwise.
func Logger(t *testing.T) *slog.Logger {
	t.Helper()
	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// Running is a server started by Serve.
type Running struct {
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
	err    error
}

// Serve runs start in the background, waits until the env's /health answers
// ok and stops the server when the test ends.
func Serve(t *testing.T, env ServerEnv, start func(context.Context) error) *Running {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	r := &Running{cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- start(ctx) }()
	t.Cleanup(func() { _ = r.Stop() })

	if err := WaitReady(env.URL(), 10*time.Second); err != nil {
		t.Fatalf("server at %s: %v", env.URL(), err)
	}
	return r
}

// Stop cancels the server and returns what Start returned. Later calls return
// the same result.
func (r *Running) Stop() error {
	r.once.Do(func() {
		r.cancel()
		select {
		case r.err = <-r.done:
		case <-time.After(30 * time.Second):
			r.err = fmt.Errorf("server did not shut down within 30s")
		}
	})
	return r.err
}

// WaitReady polls url's /health until it reports status ok.
func WaitReady(url string, timeout time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if healthy(client, url+"/health") {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("not ready after %v", timeout)
}

func healthy(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	return json.NewDecoder(resp.Body).Decode(&body) == nil && body.Status == "ok"
}

// FindFreePort asks the kernel for an unused loopback port.
func FindFreePort() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port), nil
}
