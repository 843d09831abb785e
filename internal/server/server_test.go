package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRequiresAddr(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without addr")
	}
}

func TestServesUnixSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tally.sock")
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	})

	s, err := New(Config{Addr: "127.0.0.1:0", SocketPath: sock, Handler: mux})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", sock)
			},
		},
	}

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = client.Get("http://unix/ping")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get over socket: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestShutdownRemovesSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "tally.sock")
	s, err := New(Config{Addr: "127.0.0.1:0", SocketPath: sock})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go s.Start()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, err := net.Dial("unix", sock); err == nil {
		t.Fatal("socket should be gone after shutdown")
	}
	if s.SocketPath() != sock {
		t.Fatalf("unexpected socket path: %s", s.SocketPath())
	}
}
