package upstream

import (
	"bufio"
	"net"
	"testing"
	"time"

	"feeproxy/internal/codec"
	"feeproxy/internal/rpcshape"
)

func TestLoginSuccess(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := codec.NewPlain()
	sr := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() {
		r := bufio.NewReader(client)
		done <- Login(client, c, r, 1, "0xabc", "rig01", 5*time.Second)
	}()

	frameBytes, err := c.ReadFrame(sr)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	frame, err := rpcshape.Classify(frameBytes)
	if err != nil || frame.Kind != rpcshape.KindClientWithWorkerName {
		t.Fatalf("expected ClientWithWorkerName, got %v err=%v", frame, err)
	}
	if frame.ClientWithWorkerName.Method != rpcshape.MethodSubmitLogin {
		t.Fatalf("got method %q", frame.ClientWithWorkerName.Method)
	}

	resp, _ := rpcshape.Encode(rpcshape.ServerID1{ID: rpcshape.NewID(1), Jsonrpc: "2.0", Result: true})
	if err := c.WriteFrame(server, resp); err != nil {
		t.Fatalf("server write: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestLoginRejected(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := codec.NewPlain()
	sr := bufio.NewReader(server)

	done := make(chan error, 1)
	go func() {
		r := bufio.NewReader(client)
		done <- Login(client, c, r, 1, "0xabc", "rig01", 5*time.Second)
	}()

	if _, err := c.ReadFrame(sr); err != nil {
		t.Fatalf("server read: %v", err)
	}
	resp, _ := rpcshape.Encode(rpcshape.ServerID1{ID: rpcshape.NewID(1), Jsonrpc: "2.0", Result: false})
	if err := c.WriteFrame(server, resp); err != nil {
		t.Fatalf("server write: %v", err)
	}

	if err := <-done; err == nil {
		t.Fatalf("expected rejection error")
	}
}

func TestDialNoCandidates(t *testing.T) {
	if _, err := Dial(nil, time.Second); err == nil {
		t.Fatalf("expected error with no candidates")
	}
}
