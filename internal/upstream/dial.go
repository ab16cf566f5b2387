// Package upstream provides the pool-socket connect and login helpers
// shared by the main, fee, and develop pool legs. Unlike
// ShaeOJ-GoVault/internal/upstream/client.go, it does not run its own
// background read loop or reconnect loop: the session's SessionMux owns
// reading from every socket it holds for the life of the session, and
// there is no automatic reconnection at the session level — a failed
// socket is fatal to the session.
package upstream

import (
	"fmt"
	"net"
	"time"
)

// Dial tries each candidate address in order and returns the first
// connection that succeeds, matching original_source/src/client/
// handle_stream.rs's "first reachable pool wins" connect pattern.
// Keepalive settings are grounded on ShaeOJ-GoVault/internal/upstream/
// client.go's dial.
func Dial(candidates []string, timeout time.Duration) (net.Conn, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("upstream: no candidate addresses configured")
	}

	var lastErr error
	for _, addr := range candidates {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(45 * time.Second)
			tc.SetNoDelay(true)
		}
		return conn, nil
	}
	return nil, fmt.Errorf("upstream: no candidate reachable, last error: %w", lastErr)
}
