package session

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"

	"feeproxy/internal/codec"
	"feeproxy/internal/logger"
	"feeproxy/internal/scheduler"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(t.TempDir(), "error", 1)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(l.Close)
	return l
}

// fakePool is a single-connection loopback TCP listener standing in for an
// upstream pool during tests.
type fakePool struct {
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
	c    *codec.Codec
}

func newFakePool(t *testing.T) *fakePool {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &fakePool{ln: ln, c: codec.NewPlain()}
}

func (f *fakePool) accept(t *testing.T) {
	t.Helper()
	conn, err := f.ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	f.conn = conn
	f.r = bufio.NewReader(conn)
}

func (f *fakePool) readFrame(t *testing.T) []byte {
	t.Helper()
	data, err := f.c.ReadFrame(f.r)
	if err != nil {
		t.Fatalf("pool read: %v", err)
	}
	return data
}

func (f *fakePool) writeFrame(t *testing.T, data []byte) {
	t.Helper()
	if err := f.c.WriteFrame(f.conn, data); err != nil {
		t.Fatalf("pool write: %v", err)
	}
}

func TestSessionLoginAndJobPassthroughNoDiversion(t *testing.T) {
	main := newFakePool(t)

	minerClient, minerServer := net.Pipe()
	defer minerClient.Close()

	cfg := Config{
		MainAddrs: []string{main.ln.Addr().String()},
		Policy:    scheduler.Policy{SharePercent: 0, DevelopRatio: 10},
	}
	report := make(chan Snapshot, 4)
	sess := New(minerServer, codec.NewPlain(), cfg, newTestLogger(t), report)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run() }()

	minerCodec := codec.NewPlain()
	minerReader := bufio.NewReader(minerClient)

	loginReq := []byte(`{"id":1,"method":"eth_submitLogin","params":["0xabc","x"],"worker":"rig01"}`)
	if err := minerCodec.WriteFrame(minerClient, loginReq); err != nil {
		t.Fatalf("miner write login: %v", err)
	}

	// The session dials the main pool only after reading the login frame.
	main.accept(t)

	gotLogin := main.readFrame(t)
	if string(gotLogin) != string(loginReq) {
		t.Fatalf("main pool got %s, want identical login frame", gotLogin)
	}
	main.writeFrame(t, []byte(`{"id":1,"jsonrpc":"2.0","result":true}`))

	resp, err := minerCodec.ReadFrame(minerReader)
	if err != nil {
		t.Fatalf("miner read login response: %v", err)
	}
	if string(resp) != `{"id":1,"jsonrpc":"2.0","result":true}` {
		t.Fatalf("miner got %s", resp)
	}

	jobFrame := []byte(`{"id":0,"result":["0xJOB","0xDAG","0xDIFF"]}`)
	main.writeFrame(t, jobFrame)

	minerJob, err := minerCodec.ReadFrame(minerReader)
	if err != nil {
		t.Fatalf("miner read job: %v", err)
	}
	var got map[string]json.RawMessage
	if err := json.Unmarshal(minerJob, &got); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	var result []string
	json.Unmarshal(got["result"], &result)
	if len(result) == 0 || result[0] != "0xJOB" {
		t.Fatalf("expected passthrough of 0xJOB, got %s", minerJob)
	}
	if string(got["id"]) != "0" {
		t.Fatalf("expected job notification id left as 0, not rewritten to null, got %s", minerJob)
	}

	submitReq := []byte(`{"id":77,"method":"eth_submitWork","params":["0xNONCE","0xJOB","0xMIX"],"worker":"rig01"}`)
	if err := minerCodec.WriteFrame(minerClient, submitReq); err != nil {
		t.Fatalf("miner write submit: %v", err)
	}

	gotSubmit := main.readFrame(t)
	if string(gotSubmit) != string(submitReq) {
		t.Fatalf("main pool got submit %s, want passthrough", gotSubmit)
	}
	main.writeFrame(t, []byte(`{"id":77,"jsonrpc":"2.0","result":true}`))

	submitResp, err := minerCodec.ReadFrame(minerReader)
	if err != nil {
		t.Fatalf("miner read submit response: %v", err)
	}
	if string(submitResp) != `{"id":77,"jsonrpc":"2.0","result":true}` {
		t.Fatalf("miner got %s", submitResp)
	}

	submitHashrate := []byte(`{"id":6,"method":"eth_submitHashrate","params":["0x64","rig01"],"worker":"rig01"}`)
	if err := minerCodec.WriteFrame(minerClient, submitHashrate); err != nil {
		t.Fatalf("miner write hashrate: %v", err)
	}
	gotHashrate := main.readFrame(t)
	if string(gotHashrate) != string(submitHashrate) {
		t.Fatalf("main pool got hashrate %s, want passthrough", gotHashrate)
	}

	snap := sess.worker.snapshot()
	if !snap.LoggedIn || snap.Accepted != 1 {
		t.Fatalf("unexpected worker state: %+v", snap)
	}
	if got := sess.worker.hashrate(); got != "0x64" {
		t.Fatalf("expected recorded hashrate 0x64, got %q", got)
	}
}

// TestHandleMainFrameDropsDuplicateJobNotification exercises the
// NormalLedger duplicate check directly against the mux handler: an
// identical job id re-announced by the main pool must not reach the miner
// a second time.
func TestHandleMainFrameDropsDuplicateJobNotification(t *testing.T) {
	main := newFakePool(t)
	minerClient, minerServer := net.Pipe()
	defer minerClient.Close()

	cfg := Config{
		MainAddrs: []string{main.ln.Addr().String()},
		Policy:    scheduler.Policy{SharePercent: 0, DevelopRatio: 10},
	}
	report := make(chan Snapshot, 4)
	sess := New(minerServer, codec.NewPlain(), cfg, newTestLogger(t), report)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run() }()

	minerCodec := codec.NewPlain()
	minerReader := bufio.NewReader(minerClient)

	loginReq := []byte(`{"id":1,"method":"eth_submitLogin","params":["0xabc","x"],"worker":"rig01"}`)
	if err := minerCodec.WriteFrame(minerClient, loginReq); err != nil {
		t.Fatalf("miner write login: %v", err)
	}
	main.accept(t)
	main.readFrame(t)
	main.writeFrame(t, []byte(`{"id":1,"jsonrpc":"2.0","result":true}`))
	if _, err := minerCodec.ReadFrame(minerReader); err != nil {
		t.Fatalf("miner read login response: %v", err)
	}

	jobFrame := []byte(`{"id":0,"result":["0xDUP","0xDAG","0xDIFF"]}`)
	main.writeFrame(t, jobFrame)
	if _, err := minerCodec.ReadFrame(minerReader); err != nil {
		t.Fatalf("miner read first job: %v", err)
	}

	main.writeFrame(t, jobFrame) // identical job id re-announced

	// A second, distinct job proves the mux is still alive and forwarding;
	// if the duplicate above had been forwarded, it would have arrived
	// before this one instead.
	nextJob := []byte(`{"id":0,"result":["0xNEXT","0xDAG","0xDIFF"]}`)
	main.writeFrame(t, nextJob)

	minerJob, err := minerCodec.ReadFrame(minerReader)
	if err != nil {
		t.Fatalf("miner read second job: %v", err)
	}
	var got map[string]json.RawMessage
	json.Unmarshal(minerJob, &got)
	var result []string
	json.Unmarshal(got["result"], &result)
	if len(result) == 0 || result[0] != "0xNEXT" {
		t.Fatalf("expected duplicate job dropped and 0xNEXT forwarded next, got %s", minerJob)
	}
}
