package infra

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestHTTPServerAddrAndShutdown(t *testing.T) {
	srv := NewHTTPServer(&Config{Port: "0", HTTPReadTimeout: time.Second}, http.NotFoundHandler())
	if got := srv.Addr(); got != ":0" {
		t.Fatalf("Addr() = %q, want :0", got)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start should treat shutdown as a clean exit: %v", err)
	}
}
