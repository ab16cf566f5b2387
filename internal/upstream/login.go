package upstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"feeproxy/internal/codec"
	"feeproxy/internal/rpcshape"
)

// Login performs a synchronous eth_submitLogin request/response exchange.
// Pool legs always use plain newline framing, so Login takes its own
// *codec.Codec rather than assuming one.
func Login(conn net.Conn, c *codec.Codec, r *bufio.Reader, id int64, wallet, worker string, timeout time.Duration) error {
	req := rpcshape.ClientWithWorkerName{
		ID:     rpcshape.NewID(id),
		Method: rpcshape.MethodSubmitLogin,
		Params: mustRawParams(wallet, "x"),
		Worker: worker,
	}
	data, err := rpcshape.Encode(req)
	if err != nil {
		return fmt.Errorf("encode login: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("write login: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	frameBytes, err := c.ReadFrame(r)
	if err != nil {
		return fmt.Errorf("read login response: %w", err)
	}

	frame, err := rpcshape.Classify(frameBytes)
	if err != nil {
		return fmt.Errorf("classify login response: %w", err)
	}
	if frame.Kind != rpcshape.KindServerID1 || !frame.ServerID1.Result {
		return fmt.Errorf("login rejected: %s", string(frameBytes))
	}
	return nil
}

// GetWork writes an eth_getWork request without waiting for the reply; r
// and timeout are not used. The reply arrives on conn and is read later
// like any other frame. Used by the develop-pool leg right after login and
// again on each periodic hashrate report.
func GetWork(conn net.Conn, c *codec.Codec, r *bufio.Reader, id int64, timeout time.Duration) error {
	req := rpcshape.Client{ID: rpcshape.NewID(id), Method: rpcshape.MethodGetWork, Params: []json.RawMessage{}}
	data, err := rpcshape.Encode(req)
	if err != nil {
		return fmt.Errorf("encode getwork: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.WriteFrame(conn, data); err != nil {
		return fmt.Errorf("write getwork: %w", err)
	}
	return nil
}

// SubmitHashrate reports the session's aggregate hashrate to the develop
// pool, scaled by the configured fee ratio.
func SubmitHashrate(conn net.Conn, c *codec.Codec, id int64, hashrateHex, worker string) error {
	req := rpcshape.ClientWithWorkerName{
		ID:     rpcshape.NewID(id),
		Method: rpcshape.MethodSubmitHashrate,
		Params: mustRawParams(hashrateHex, worker),
		Worker: worker,
	}
	data, err := rpcshape.Encode(req)
	if err != nil {
		return fmt.Errorf("encode hashrate: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.WriteFrame(conn, data)
}

func mustRawParams(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		b, _ := json.Marshal(v)
		out[i] = b
	}
	return out
}
