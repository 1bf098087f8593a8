package server

import (
	"context"
	"testing"
	"time"

	"LinePulse/internal/handler/ws"
	xhttp "LinePulse/pkg/http"
)

func TestRunContextStopsOnCancel(t *testing.T) {
	srv := xhttp.NewServer(nil, nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(0))
	app := New(nil, srv, time.Second, WithHub(ws.NewHub(nil)))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- app.RunContext(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not stop after cancel")
	}
}

func TestNewDefaults(t *testing.T) {
	app := New(nil, nil, 0)
	if app.shutdownTimeout != 15*time.Second {
		t.Fatalf("shutdown timeout = %v", app.shutdownTimeout)
	}
	if app.hub != nil || app.consumer != nil {
		t.Fatalf("optional components must be unset")
	}
}
