package socketconnector

import (
	"testing"
)

func TestServerStartFinishRoundTrip(t *testing.T) {
	srv, err := NewServer(0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()

	if err = srv.Start(true); err != nil {
		t.Fatalf("Start: %v", err)
	}

	addr := srv.ln.Addr().String()
	client := NewClient(0)
	client.addr = addr

	done := make(chan error, 1)
	go func() {
		_, cerr := client.Finish()
		done <- cerr
	}()

	if _, err = srv.Finish(); err != nil {
		t.Fatalf("server Finish: %v", err)
	}
	if err = <-done; err != nil {
		t.Fatalf("client Finish: %v", err)
	}

	if srv.Stream() == nil {
		t.Fatalf("expected server stream to be set")
	}
	if client.Stream() == nil {
		t.Fatalf("expected client stream to be set")
	}
}

func TestClientModeStartIsNoopWithoutFreshChild(t *testing.T) {
	c := NewClient(0)
	if err := c.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.stream != nil {
		t.Fatalf("expected no stream before first Finish")
	}
}
