// Package acceptor listens for inbound miner connections on the plain and
// (optionally) encrypted ports and spawns a SessionMux for each one.
//
// Grounded on ShaeOJ-GoVault/internal/stratum/server.go's acceptLoop
// (listen, keepalive tuning, per-connection goroutine, session bookkeeping
// map) generalized to two listeners with independent framing modes, per
// original_source/src/client/encryption.rs's separate plain/
// accept_encrypt_tcp accept loops.
package acceptor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"feeproxy/internal/codec"
	"feeproxy/internal/logger"
	"feeproxy/internal/reporting"
	"feeproxy/internal/session"
)

// Listener describes one TCP port to accept miner connections on and the
// framing mode new sessions on that port should use.
type Listener struct {
	Addr string
	Mode codec.Mode
	Key  []byte // only used when Mode == codec.Encrypted
	IV   []byte
	Delim byte
}

// Acceptor owns zero or more listeners and the live session set spawned
// from them.
type Acceptor struct {
	listeners []Listener
	cfg       session.Config
	log       *logger.Logger
	registry  *reporting.Registry
	reportCh  chan<- session.Snapshot

	mu       sync.Mutex
	sessions map[string]*session.Session

	closers []net.Listener
}

func New(listeners []Listener, cfg session.Config, log *logger.Logger, registry *reporting.Registry, reportCh chan<- session.Snapshot) *Acceptor {
	return &Acceptor{
		listeners: listeners,
		cfg:       cfg,
		log:       log,
		registry:  registry,
		reportCh:  reportCh,
		sessions:  make(map[string]*session.Session),
	}
}

// Run binds every configured listener and blocks accepting connections
// until one listener fails to bind (at which point the others that did
// bind are left running — callers that want all-or-nothing semantics
// should check the returned error before relying on partial startup).
func (a *Acceptor) Run() error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(a.listeners))

	for _, ln := range a.listeners {
		tcpLn, err := net.Listen("tcp", ln.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", ln.Addr, err)
		}
		a.mu.Lock()
		a.closers = append(a.closers, tcpLn)
		a.mu.Unlock()

		a.log.Infof("acceptor", "listening on %s (mode=%v)", ln.Addr, ln.Mode)

		wg.Add(1)
		go func(listener Listener, tcpLn net.Listener) {
			defer wg.Done()
			errCh <- a.acceptLoop(listener, tcpLn)
		}(ln, tcpLn)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// Close stops every listener; in-flight sessions are left to tear down on
// their own (there is no graceful draining).
func (a *Acceptor) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ln := range a.closers {
		ln.Close()
	}
}

func (a *Acceptor) acceptLoop(ln Listener, tcpLn net.Listener) error {
	for {
		conn, err := tcpLn.Accept()
		if err != nil {
			return fmt.Errorf("accept on %s: %w", ln.Addr, err)
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(45 * time.Second)
			tc.SetNoDelay(true)
		}

		c, err := a.codecFor(ln)
		if err != nil {
			a.log.Errorf("acceptor", "build codec for %s: %v", ln.Addr, err)
			conn.Close()
			continue
		}

		sess := session.New(conn, c, a.cfg, a.log, a.reportCh)
		a.track(sess)

		a.log.Infof("acceptor", "new connection from %s (session %s)", conn.RemoteAddr(), sess.ID())

		go func() {
			defer a.untrack(sess)
			if err := sess.Run(); err != nil {
				a.log.Infof("acceptor", "session %s ended: %v", sess.ID(), err)
			}
			if a.registry != nil {
				a.registry.Unregister(sess.ID())
			}
		}()
	}
}

func (a *Acceptor) codecFor(ln Listener) (*codec.Codec, error) {
	if ln.Mode == codec.Plain {
		return codec.NewPlain(), nil
	}
	return codec.NewEncrypted(ln.Key, ln.IV, ln.Delim)
}

func (a *Acceptor) track(s *session.Session) {
	a.mu.Lock()
	a.sessions[s.ID()] = s
	a.mu.Unlock()
}

func (a *Acceptor) untrack(s *session.Session) {
	a.mu.Lock()
	delete(a.sessions, s.ID())
	a.mu.Unlock()
}

// SessionCount reports how many sessions are currently live.
func (a *Acceptor) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
