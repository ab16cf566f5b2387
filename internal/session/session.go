// Package session implements the per-miner proxy session: the socket set
// a miner's connection owns (miner leg plus main/fee/develop pool legs),
// the five-way event multiplexer that drives them, and the worker-state
// counters reported out on each heartbeat.
//
// Grounded on original_source/src/client/handle_stream.rs's handle_stream
// (the five-branch select: miner/main-pool/fee-pool/develop-pool frame
// plus a periodic heartbeat) and on ShaeOJ-GoVault/internal/stratum/
// session.go's per-session writeMu/read-deadline idioms, generalized from
// one socket to four. The goroutine-per-socket-plus-fan-in-select shape
// follows Eacred-eacrpool/pool/client.go's read()/process() split. Session
// ids use github.com/google/uuid.
package session

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"feeproxy/internal/codec"
	"feeproxy/internal/ledger"
	"feeproxy/internal/logger"
	"feeproxy/internal/scheduler"
	"feeproxy/internal/upstream"
)

// preLoginTimeout and postLoginTimeout bound how long the mux will wait on
// a miner frame before and after a successful login.
const (
	preLoginTimeout  = 1 * time.Second
	postLoginTimeout = 60 * time.Second
	heartbeatPeriod  = 60 * time.Second
	dialTimeout      = 10 * time.Second

	// hashrateReportPeriod is the develop leg's eth_submitHashrate +
	// eth_getWork re-issue cadence, matching original_source/src/mine/
	// develop.rs's login_and_getwork loop ("sleep(Duration::new(10, 0))").
	hashrateReportPeriod = 10 * time.Second
)

// Config carries everything a Session needs beyond the already-accepted
// miner socket: upstream candidate lists, wallets, and the diversion
// policy. Owned by the Acceptor, shared read-only across sessions.
type Config struct {
	MainAddrs    []string
	FeeAddrs     []string
	FeeWallet    string
	DevelopAddrs []string
	DevelopWallet string
	Policy       scheduler.Policy
}

// Session owns one miner's sockets, ledgers, and worker state exclusively
// — nothing here is shared with any other session. The diverted-job
// queues themselves live in ledger.Ledger, which in this implementation is
// also per-session (see DESIGN.md's per-session-socket note): the only
// state genuinely shared across sessions is the heartbeat reporting sink.
type Session struct {
	id  string
	cfg Config
	log *logger.Logger

	report chan<- Snapshot

	minerConn   net.Conn
	minerCodec  *codec.Codec
	minerReader *bufio.Reader
	minerWriteMu sync.Mutex

	mainConn   net.Conn
	mainCodec  *codec.Codec
	mainReader *bufio.Reader

	feeConn   net.Conn
	feeCodec  *codec.Codec
	feeReader *bufio.Reader

	developConn   net.Conn
	developCodec  *codec.Codec
	developReader *bufio.Reader

	ledger *ledger.Ledger
	sched  *scheduler.Scheduler
	worker *WorkerState

	minerTimeoutNS atomic.Int64

	feeWorkerName     string
	developWorkerName string
}

// New constructs a Session around an already-accepted miner connection.
// minerCodec carries the framing mode (plain or encrypted) the Acceptor
// chose for the listener this connection arrived on.
func New(minerConn net.Conn, minerCodec *codec.Codec, cfg Config, log *logger.Logger, report chan<- Snapshot) *Session {
	l := ledger.New()
	s := &Session{
		id:          uuid.NewString(),
		cfg:         cfg,
		log:         log,
		report:      report,
		minerConn:   minerConn,
		minerCodec:  minerCodec,
		minerReader: bufio.NewReaderSize(minerConn, 4096),
		ledger:      l,
		sched:       scheduler.New(cfg.Policy, l),
		worker:      newWorkerState(),
	}
	s.minerTimeoutNS.Store(int64(preLoginTimeout))
	return s
}

func (s *Session) ID() string { return s.id }

// Close tears down every socket the session owns. Safe to call more than
// once; best-effort, errors are not reported since the session is already
// ending.
func (s *Session) Close() {
	s.minerConn.Close()
	if s.mainConn != nil {
		s.mainConn.Close()
	}
	if s.feeConn != nil {
		s.feeConn.Close()
	}
	if s.developConn != nil {
		s.developConn.Close()
	}
}

// dialMain connects to the first reachable main-pool candidate. Called
// once, on the miner's first login frame.
func (s *Session) dialMain() error {
	conn, err := upstream.Dial(s.cfg.MainAddrs, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial main pool: %w", err)
	}
	s.mainConn = conn
	s.mainCodec = codec.NewPlain()
	s.mainReader = bufio.NewReaderSize(conn, 4096)
	return nil
}

// dialFee connects and logs in to the fee pool with a synthetic login
// using a random 7-character alphanumeric worker name. Only called when
// the policy's SharePercent is non-zero.
func (s *Session) dialFee() error {
	conn, err := upstream.Dial(s.cfg.FeeAddrs, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial fee pool: %w", err)
	}
	name, err := scheduler.RandomWorkerName()
	if err != nil {
		conn.Close()
		return fmt.Errorf("generate fee worker name: %w", err)
	}
	c := codec.NewPlain()
	r := bufio.NewReaderSize(conn, 4096)
	if err := upstream.Login(conn, c, r, scheduler.LoginID, s.cfg.FeeWallet, name, dialTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("fee pool login: %w", err)
	}
	s.feeConn = conn
	s.feeCodec = c
	s.feeReader = r
	s.feeWorkerName = name
	return nil
}

// dialDevelop connects and logs in to the develop pool. The worker name is
// the same random name used for the fee leg, suffixed "_develop".
func (s *Session) dialDevelop() error {
	conn, err := upstream.Dial(s.cfg.DevelopAddrs, dialTimeout)
	if err != nil {
		return fmt.Errorf("dial develop pool: %w", err)
	}
	name := s.feeWorkerName + "_develop"
	if s.feeWorkerName == "" {
		generated, err := scheduler.RandomWorkerName()
		if err != nil {
			conn.Close()
			return fmt.Errorf("generate develop worker name: %w", err)
		}
		name = generated + "_develop"
	}
	c := codec.NewPlain()
	r := bufio.NewReaderSize(conn, 4096)
	if err := upstream.Login(conn, c, r, scheduler.LoginID, s.cfg.DevelopWallet, name, dialTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("develop pool login: %w", err)
	}
	if err := upstream.GetWork(conn, c, r, scheduler.GetWorkID, dialTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("develop pool getwork: %w", err)
	}
	s.developConn = conn
	s.developCodec = c
	s.developReader = r
	s.developWorkerName = name
	return nil
}

// reportDevelopHashrate submits the miner's last-reported hashrate (scaled
// to this session's diversion share) to the develop pool and re-issues
// eth_getWork, per develop.rs's login_and_getwork loop. Best-effort: a
// failure here just skips this cycle, the next ticker fire tries again.
func (s *Session) reportDevelopHashrate() {
	if s.developConn == nil {
		return
	}
	scaled := scheduler.ScaleHashrate(s.worker.hashrate(), s.cfg.Policy.SharePercent)
	if err := upstream.SubmitHashrate(s.developConn, s.developCodec, scheduler.HashrateID, scaled, s.developWorkerName); err != nil {
		s.log.Warnf("session", "%s: develop hashrate report failed: %v", s.id, err)
		return
	}
	if err := upstream.GetWork(s.developConn, s.developCodec, s.developReader, scheduler.GetWorkID, dialTimeout); err != nil {
		s.log.Warnf("session", "%s: develop getwork re-issue failed: %v", s.id, err)
	}
}

func (s *Session) writeMiner(data []byte) error {
	s.minerWriteMu.Lock()
	defer s.minerWriteMu.Unlock()
	s.minerConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.minerCodec.WriteFrame(s.minerConn, data)
}
