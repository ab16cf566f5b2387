package session

import (
	"encoding/json"
	"sync"
	"time"
)

// WorkerState is the per-session counters and login bookkeeping the
// heartbeat reports out. Pure in-memory, no persistence.
type WorkerState struct {
	mu sync.Mutex

	workerName string
	loggedIn   bool
	loginAt    time.Time

	shareIndex int64
	lastSeenID json.RawMessage

	accepted uint64
	rejected uint64

	hashrateHex string
}

// Snapshot is a point-in-time, allocation-cheap copy of WorkerState used by
// the heartbeat and the reporting sink.
type Snapshot struct {
	SessionID  string
	WorkerName string
	LoggedIn   bool
	LoginAt    time.Time
	ShareIndex int64
	Accepted   uint64
	Rejected   uint64
}

func newWorkerState() *WorkerState {
	return &WorkerState{}
}

func (w *WorkerState) login(workerName string) {
	w.mu.Lock()
	w.workerName = workerName
	w.loggedIn = true
	w.loginAt = time.Now()
	w.mu.Unlock()
}

func (w *WorkerState) isLoggedIn() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loggedIn
}

// setShareIndex records the rpc id of the miner's most recent in-flight
// submitWork — RewriteEnvelopeID compares a job's own envelope id against
// this to decide whether the job looks like a response to that submit.
func (w *WorkerState) setShareIndex(shareIndex int64) {
	w.mu.Lock()
	w.shareIndex = shareIndex
	w.mu.Unlock()
}

// noteLastSeenID records the id of the miner's most recent request of any
// kind — substituted into a diverted job's envelope so the miner sees a
// response correlated to something it actually asked for.
func (w *WorkerState) noteLastSeenID(id json.RawMessage) {
	w.mu.Lock()
	w.lastSeenID = append(json.RawMessage{}, id...)
	w.mu.Unlock()
}

func (w *WorkerState) shareContext() (int64, json.RawMessage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shareIndex, w.lastSeenID
}

// noteHashrate records the hex hashrate the miner most recently reported via
// eth_submitHashrate — the develop leg's periodic report scales this figure
// rather than tracking its own measurement.
func (w *WorkerState) noteHashrate(hashrateHex string) {
	w.mu.Lock()
	w.hashrateHex = hashrateHex
	w.mu.Unlock()
}

func (w *WorkerState) hashrate() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hashrateHex
}

func (w *WorkerState) acceptShare() {
	w.mu.Lock()
	w.accepted++
	w.mu.Unlock()
}

func (w *WorkerState) rejectShare() {
	w.mu.Lock()
	w.rejected++
	w.mu.Unlock()
}

func (w *WorkerState) snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		WorkerName: w.workerName,
		LoggedIn:   w.loggedIn,
		LoginAt:    w.loginAt,
		ShareIndex: w.shareIndex,
		Accepted:   w.accepted,
		Rejected:   w.rejected,
	}
}
