// Package scheduler implements the share-diversion policy and the
// submission-routing state machine: for each main-pool job it decides
// whether the miner sees the original job or a substituted fee/develop
// job, and for each miner submission it decides which upstream socket the
// share is forwarded to.
//
// Grounded directly on original_source/src/client/handle_stream.rs's
// share_job_process (diversion decision, develop-slot cadence, envelope-id
// rewrite) and src/mine/develop.rs's submission rewrite (id=599, fixed
// worker name).
package scheduler

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"feeproxy/internal/ledger"
)

// FeeSubmitID is the fixed JSON-RPC id a diverted submission is rewritten
// to before being forwarded to the fee or develop pool. Named as a
// constant rather than an inline literal; the value 599 matches what
// original_source/src/mine/develop.rs hard-codes.
const FeeSubmitID = 599

const workerNameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomWorkerName returns a random 7-character alphanumeric string, used
// as the forwarded worker name for fee/develop submissions — grounded on
// handle_stream.rs's "random 7-char alphanumeric s".
func RandomWorkerName() (string, error) {
	b := make([]byte, 7)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(workerNameAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = workerNameAlphabet[n.Int64()]
	}
	return string(b), nil
}

// ScaleHashrate scales a hex-encoded hashrate, as last reported by the
// miner's eth_submitHashrate, down to the slice this session actually
// diverts — grounded on develop.rs's login_and_getwork loop, which reports
// "(my_hash_rate/1000/1000) as f64 * crate::FEE" to the develop pool every
// 10 seconds. This implementation has no global FEE constant (diversion is
// per-session), so sharePercent/100 takes its place. An unparseable
// hashrate or a zero share reports "0x0".
func ScaleHashrate(hashrateHex string, sharePercent int) string {
	raw := strings.TrimPrefix(hashrateHex, "0x")
	n, err := strconv.ParseUint(raw, 16, 64)
	if err != nil || sharePercent <= 0 {
		return "0x0"
	}
	scaled := uint64(float64(n) * float64(sharePercent) / 100)
	return fmt.Sprintf("0x%x", scaled)
}

// State is the submission-routing state for one in-flight miner
// submission.
type State int

const (
	StateIdle State = iota
	StateInFlightMain
	StateInFlightFee
	StateInFlightDevelop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlightMain:
		return "in_flight_main"
	case StateInFlightFee:
		return "in_flight_fee"
	case StateInFlightDevelop:
		return "in_flight_develop"
	default:
		return "unknown"
	}
}

// Policy configures the diversion behavior for one session.
type Policy struct {
	SharePercent int // 0-100; 0 disables diversion entirely
	DevelopRatio int // every DevelopRatio-th eligible slot tries develop first
}

// Decision is the outcome of scheduling one main-pool job arrival: which
// job to emit to the miner, and which SentLedger origin it was recorded
// under.
type Decision struct {
	Job    ledger.Job
	Origin ledger.Origin
}

// Scheduler holds the per-session diversion cadence counter and
// submission-routing state.
type Scheduler struct {
	policy Policy
	ledger *ledger.Ledger

	mu           sync.Mutex
	developCount int
	state        State
}

func New(policy Policy, l *ledger.Ledger) *Scheduler {
	if policy.DevelopRatio < 1 {
		policy.DevelopRatio = 1
	}
	return &Scheduler{policy: policy, ledger: l}
}

// NextOutboundJob decides what the miner sees for one main-pool job
// arrival. mainJob is the OriginMain job that just arrived (poolJobIdx is
// its pool-job index); the ledger never queues main-origin jobs. When config.share == 0
// diversion is skipped entirely and the main job is always emitted.
func (s *Scheduler) NextOutboundJob(poolJobIdx uint64, mainJob ledger.Job) Decision {
	if s.policy.SharePercent > 0 && int(poolJobIdx%100) < s.policy.SharePercent {
		s.mu.Lock()
		s.developCount++
		tryDevelopFirst := s.developCount%s.policy.DevelopRatio == 0
		s.mu.Unlock()

		if tryDevelopFirst {
			if job, ok := s.ledger.TakeDiverted(ledger.OriginDevelop); ok {
				s.ledger.RecordSent(ledger.OriginDevelop, job.ID, poolJobIdx)
				return Decision{Job: job, Origin: ledger.OriginDevelop}
			}
		}
		if job, ok := s.ledger.TakeDiverted(ledger.OriginFee); ok {
			s.ledger.RecordSent(ledger.OriginFee, job.ID, poolJobIdx)
			return Decision{Job: job, Origin: ledger.OriginFee}
		}
	}

	// Not diverting: the main job is never queued (it's live work, not
	// stealable), so emit mainJob directly rather than popping the
	// UnsentJobQueue — a pop here would return whatever stale job an
	// earlier diverted slot left behind instead of this arrival.
	s.ledger.RecordSent(ledger.OriginMain, mainJob.ID, poolJobIdx)
	return Decision{Job: mainJob, Origin: ledger.OriginMain}
}

// RewriteEnvelopeID implements the "before emission, rewrite the rpc id"
// rule: substitute minerLastSeenID whenever the job's own envelope id is
// either the well-known get-work id or equal to the miner's current share
// index (the id the miner would expect correlated to its own request) —
// but never when the envelope id is 0, which is how job notifications and
// a fresh WorkerState's zero-value share index both serialize, and
// rewriting that to a nil lastSeenID would corrupt a plain passthrough.
func RewriteEnvelopeID(envelopeID json.RawMessage, minerShareIndex int64, minerLastSeenID json.RawMessage) json.RawMessage {
	var n int64
	if err := json.Unmarshal(envelopeID, &n); err == nil {
		if n == 0 {
			return envelopeID
		}
		if n == GetWorkID || n == minerShareIndex {
			return minerLastSeenID
		}
	}
	return envelopeID
}

// Protocol-level request ids used by the develop/fee login+getwork+
// hashrate flow, grounded on the literal ids observed in
// original_source/src/mine/develop.rs (login=1, getwork=5, hashrate=6).
// SubscribeID was not present in the retrieved source; chosen here as a
// named constant rather than guessed silently inline.
const (
	LoginID      = 1
	SubscribeID  = 2
	GetWorkID    = 5
	HashrateID   = 6
)

// TransitionOnSubmit implements the submission state machine's "on
// receive" edge: given the origin a submission's job-id resolves to, it
// returns the new in-flight state.
func (s *Scheduler) TransitionOnSubmit(origin ledger.Origin) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch origin {
	case ledger.OriginFee:
		s.state = StateInFlightFee
	case ledger.OriginDevelop:
		s.state = StateInFlightDevelop
	default:
		s.state = StateInFlightMain
	}
	return s.state
}

// ResolveToIdle implements the "on response from main" edge, returning the
// state machine to idle.
func (s *Scheduler) ResolveToIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
