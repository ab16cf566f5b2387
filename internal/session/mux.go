package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/davecgh/go-spew/spew"

	"feeproxy/internal/codec"
	"feeproxy/internal/ledger"
	"feeproxy/internal/rpcshape"
	"feeproxy/internal/scheduler"
	"feeproxy/internal/upstream"
)

type frameResult struct {
	data []byte
	err  error
}

// Run drives the session to completion: a synchronous login handshake,
// then the steady-state five-way multiplex. It always returns (never
// blocks forever) and always leaves every owned socket closed.
func (s *Session) Run() error {
	defer s.Close()

	if err := s.loginPhase(); err != nil {
		return fmt.Errorf("session %s: login: %w", s.id, err)
	}

	return s.steadyState()
}

func (s *Session) loginPhase() error {
	s.minerConn.SetReadDeadline(time.Now().Add(preLoginTimeout))
	data, err := s.minerCodec.ReadFrame(s.minerReader)
	if err != nil {
		return fmt.Errorf("read login frame: %w", err)
	}

	frame, err := rpcshape.Classify(data)
	if err != nil {
		return fmt.Errorf("classify login frame: %w", err)
	}
	if frame.Kind != rpcshape.KindClientWithWorkerName || frame.ClientWithWorkerName.Method != rpcshape.MethodSubmitLogin {
		return fmt.Errorf("first frame was not eth_submitLogin")
	}
	workerName := frame.ClientWithWorkerName.Worker

	if err := s.dialMain(); err != nil {
		return err
	}

	if err := s.mainCodec.WriteFrame(s.mainConn, data); err != nil {
		return fmt.Errorf("forward login to main: %w", err)
	}

	s.mainConn.SetReadDeadline(time.Now().Add(dialTimeout))
	respData, err := s.mainCodec.ReadFrame(s.mainReader)
	if err != nil {
		return fmt.Errorf("read main login response: %w", err)
	}
	if err := s.writeMiner(respData); err != nil {
		return fmt.Errorf("forward login response to miner: %w", err)
	}

	respFrame, err := rpcshape.Classify(respData)
	if err == nil && respFrame.Kind == rpcshape.KindServerID1 && respFrame.ServerID1.Result {
		s.worker.login(workerName)
		s.setMinerTimeout(postLoginTimeout)

		if s.cfg.Policy.SharePercent > 0 {
			if err := s.dialFee(); err != nil {
				s.log.Warnf("session", "%s: fee pool unavailable, diversion disabled: %v", s.id, err)
			} else if err := s.dialDevelop(); err != nil {
				s.log.Warnf("session", "%s: develop pool unavailable: %v", s.id, err)
			}
		}
	} else {
		s.log.Warnf("session", "%s: main pool rejected login for worker %q", s.id, workerName)
	}

	return nil
}

func (s *Session) steadyState() error {
	done := make(chan struct{})
	defer close(done)

	minerCh := make(chan frameResult, 1)
	mainCh := make(chan frameResult, 1)
	var feeCh, developCh chan frameResult

	go s.readLoopMiner(minerCh, done)
	go readLoopPool(s.mainConn, s.mainCodec, s.mainReader, mainCh, done)

	if s.feeConn != nil {
		feeCh = make(chan frameResult, 1)
		go readLoopPool(s.feeConn, s.feeCodec, s.feeReader, feeCh, done)
	}

	var developReportCh <-chan time.Time
	if s.developConn != nil {
		developCh = make(chan frameResult, 1)
		go readLoopPool(s.developConn, s.developCodec, s.developReader, developCh, done)

		developTicker := time.NewTicker(hashrateReportPeriod)
		defer developTicker.Stop()
		developReportCh = developTicker.C
	}

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case res := <-minerCh:
			if res.err != nil {
				return fmt.Errorf("miner leg: %w", res.err)
			}
			if err := s.handleMinerFrame(res.data); err != nil {
				return err
			}

		case res := <-mainCh:
			if res.err != nil {
				return fmt.Errorf("main pool leg: %w", res.err)
			}
			if err := s.handleMainFrame(res.data); err != nil {
				return err
			}

		case res := <-feeCh:
			if res.err != nil {
				s.log.Warnf("session", "%s: fee pool leg closed: %v", s.id, res.err)
				feeCh = nil
				continue
			}
			s.handleDivertedFrame(ledger.OriginFee, res.data)

		case res := <-developCh:
			if res.err != nil {
				s.log.Warnf("session", "%s: develop pool leg closed: %v", s.id, res.err)
				developCh = nil
				continue
			}
			s.handleDivertedFrame(ledger.OriginDevelop, res.data)

		case <-developReportCh:
			s.reportDevelopHashrate()

		case <-ticker.C:
			snap := s.worker.snapshot()
			snap.SessionID = s.id
			select {
			case s.report <- snap:
			default:
			}
		}
	}
}

func (s *Session) readLoopMiner(out chan<- frameResult, done <-chan struct{}) {
	for {
		s.minerConn.SetReadDeadline(time.Now().Add(s.minerTimeout()))
		data, err := s.minerCodec.ReadFrame(s.minerReader)
		select {
		case out <- frameResult{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func readLoopPool(conn net.Conn, c *codec.Codec, r *bufio.Reader, out chan<- frameResult, done <-chan struct{}) {
	for {
		data, err := c.ReadFrame(r)
		select {
		case out <- frameResult{data: data, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) setMinerTimeout(d time.Duration) {
	s.minerTimeoutNS.Store(int64(d))
}

func (s *Session) minerTimeout() time.Duration {
	return time.Duration(s.minerTimeoutNS.Load())
}

// handleMinerFrame processes one frame read from the miner: submitWork is
// routed by job-id lookup, submitHashrate is recorded for the develop leg's
// periodic report before being forwarded on, every other request is a
// verbatim pass-through to the main pool, and anything that fails
// classification is forwarded opaquely.
func (s *Session) handleMinerFrame(data []byte) error {
	frame, err := rpcshape.Classify(data)
	if err != nil {
		return s.mainCodec.WriteFrame(s.mainConn, data)
	}

	switch frame.Kind {
	case rpcshape.KindClientWithWorkerName:
		s.worker.noteLastSeenID(idBytes(frame.ClientWithWorkerName.ID))
		switch frame.ClientWithWorkerName.Method {
		case rpcshape.MethodSubmitWork:
			return s.handleSubmitWork(frame.ClientWithWorkerName, data)
		case rpcshape.MethodSubmitHashrate:
			if hr, ok := paramString(frame.ClientWithWorkerName.Params, 0); ok {
				s.worker.noteHashrate(hr)
			}
		}
		return s.mainCodec.WriteFrame(s.mainConn, data)

	case rpcshape.KindClient:
		s.worker.noteLastSeenID(idBytes(frame.Client.ID))
		return s.mainCodec.WriteFrame(s.mainConn, data)

	default:
		s.log.Warnf("session", "%s: unrecognized miner frame forwarded opaquely:\n%s", s.id, spew.Sdump(frame))
		return s.mainCodec.WriteFrame(s.mainConn, data)
	}
}

// handleSubmitWork implements the submission-routing state machine's
// "on receive" edge.
func (s *Session) handleSubmitWork(req *rpcshape.ClientWithWorkerName, raw []byte) error {
	jobID, ok := paramString(req.Params, 1)
	if !ok {
		return s.mainCodec.WriteFrame(s.mainConn, raw)
	}

	n, _ := req.ID.Int64()
	s.worker.setShareIndex(n)

	origin, _, found := s.ledger.LookupOrigin(jobID)
	if !found {
		s.log.Warnf("session", "%s: submission for unknown job %q forwarded to main", s.id, jobID)
		s.sched.TransitionOnSubmit(ledger.OriginMain)
		return s.mainCodec.WriteFrame(s.mainConn, raw)
	}

	s.sched.TransitionOnSubmit(origin)

	switch origin {
	case ledger.OriginFee, ledger.OriginDevelop:
		conn, c, name := s.feeConn, s.feeCodec, s.feeWorkerName
		if origin == ledger.OriginDevelop {
			conn, c, name = s.developConn, s.developCodec, s.developWorkerName
		}
		if conn == nil {
			return s.mainCodec.WriteFrame(s.mainConn, raw)
		}
		if err := upstream.SubmitWork(conn, c, scheduler.FeeSubmitID, name, req.Params); err != nil {
			return fmt.Errorf("forward diverted submission: %w", err)
		}
		// Optimistic acknowledgment: the miner is told "accepted" without
		// waiting on the fee/develop pool's real response.
		ack, _ := rpcshape.Encode(rpcshape.ServerID1{ID: req.ID, Jsonrpc: "2.0", Result: true})
		s.worker.acceptShare()
		return s.writeMiner(ack)

	default:
		return s.mainCodec.WriteFrame(s.mainConn, raw)
	}
}

// handleMainFrame processes a frame from the main pool: job notifications
// are checked against the NormalLedger for an exact duplicate job id before
// feeding the ledger and triggering the scheduler's diversion decision; a
// ServerID1 while a submission is in flight is the submit's real response;
// anything else is forwarded verbatim.
func (s *Session) handleMainFrame(data []byte) error {
	frame, err := rpcshape.Classify(data)
	if err != nil {
		return s.writeMiner(data)
	}

	if isJobNotification(frame.Kind) {
		job := jobFromFrame(frame, ledger.OriginMain, data)
		if s.ledger.SeenNormal(job.ID) {
			// Main pool re-announced a job it already sent (reconnect noise,
			// a resubscribe, or a duplicate push) — the scheduler already
			// made its diversion decision for this job id, so re-running it
			// would burn another modulo-100 slot and a ledger re-insert for
			// work the miner has already been told about.
			return nil
		}
		s.ledger.OnPoolJob(job)
		idx := s.ledger.NextMainIndex()
		decision := s.sched.NextOutboundJob(idx, job)
		return s.emitJob(decision)
	}

	if frame.Kind == rpcshape.KindServerID1 && s.sched.State() == scheduler.StateInFlightMain {
		if frame.ServerID1.Result {
			s.worker.acceptShare()
		} else {
			s.worker.rejectShare()
		}
		s.sched.ResolveToIdle()
		return s.writeMiner(data)
	}

	return s.writeMiner(data)
}

// handleDivertedFrame processes a frame from the fee or develop pool leg.
// Job notifications are queued for the next diversion decision; submission
// responses are consumed (the miner was already optimistically
// acknowledged) and resolve the state machine back to idle.
func (s *Session) handleDivertedFrame(origin ledger.Origin, data []byte) {
	frame, err := rpcshape.Classify(data)
	if err != nil {
		s.log.Warnf("session", "%s: unrecognized %s frame dropped:\n%s", s.id, origin, spew.Sdump(data))
		return
	}

	if isJobNotification(frame.Kind) {
		s.ledger.OnPoolJob(jobFromFrame(frame, origin, data))
		return
	}

	if frame.Kind == rpcshape.KindServerID1 {
		if s.sched.State() == stateFor(origin) {
			s.sched.ResolveToIdle()
		}
		if !frame.ServerID1.Result {
			s.log.Debugf("session", "%s: %s pool rejected diverted submission", s.id, origin)
		}
	}
}

func stateFor(origin ledger.Origin) scheduler.State {
	if origin == ledger.OriginDevelop {
		return scheduler.StateInFlightDevelop
	}
	return scheduler.StateInFlightFee
}

// emitJob rewrites the decided job's envelope id (substituting the miner's
// last-seen id when the job looks like a correlated response) and writes
// it to the miner leg.
func (s *Session) emitJob(decision scheduler.Decision) error {
	shareIndex, lastSeenID := s.worker.shareContext()
	newID := scheduler.RewriteEnvelopeID(decision.Job.EnvelopeID, shareIndex, lastSeenID)

	out, err := rewriteFrameID(decision.Job.Payload, newID)
	if err != nil {
		return fmt.Errorf("rewrite job envelope: %w", err)
	}
	return s.writeMiner(out)
}

func isJobNotification(k rpcshape.Kind) bool {
	switch k {
	case rpcshape.KindServerJobsWithHeight, rpcshape.KindServerSideJob, rpcshape.KindServer:
		return true
	default:
		return false
	}
}

func jobFromFrame(frame *rpcshape.Frame, origin ledger.Origin, raw []byte) ledger.Job {
	var result []json.RawMessage
	var id rpcshape.ID
	switch frame.Kind {
	case rpcshape.KindServerJobsWithHeight:
		result, id = frame.ServerJobsWithHeight.Result, frame.ServerJobsWithHeight.ID
	case rpcshape.KindServerSideJob:
		result, id = frame.ServerSideJob.Result, frame.ServerSideJob.ID
	default:
		result, id = frame.Server.Result, frame.Server.ID
	}

	jobID := ""
	difficulty := ""
	if len(result) > 0 {
		json.Unmarshal(result[0], &jobID)
	}
	if len(result) > 2 {
		json.Unmarshal(result[2], &difficulty)
	}

	envelopeID, _ := json.Marshal(id)
	return ledger.Job{
		ID:         jobID,
		Payload:    append(json.RawMessage{}, raw...),
		Difficulty: difficulty,
		Origin:     origin,
		EnvelopeID: envelopeID,
	}
}

func idBytes(id rpcshape.ID) json.RawMessage {
	b, _ := json.Marshal(id)
	return b
}

func paramString(params []json.RawMessage, idx int) (string, bool) {
	if idx < 0 || idx >= len(params) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(params[idx], &s); err != nil {
		return "", false
	}
	return s, true
}

// rewriteFrameID splices a new "id" field into an already-serialized
// JSON-RPC frame without disturbing any other field.
func rewriteFrameID(raw []byte, newID json.RawMessage) ([]byte, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	generic["id"] = newID
	return json.Marshal(generic)
}
