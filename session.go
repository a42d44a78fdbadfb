package isotp

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Session state bits (§3 "Session state"). Idle is the zero value: no bit
// set means nothing in flight. The bitset, not a single enum, because
// WaitBusy and WaitFlowCtrl both compose with Sending during a multi-frame
// transfer's brief overlap windows.
const (
	stateSending     uint8 = 1 << iota // one frame queued to the link, unacknowledged
	stateWaitFlowCtrl                  // sender blocked awaiting FC after FF or a full block
	stateWaitBusy                      // peer sent FC.Wait; timer extended
	stateError                         // sticky, absorbing until the next write()
)

// Statistics is a cheap, non-blocking health snapshot, grounded on the
// teacher's BusManager.Error()/CANModule.CANerrorstatus pattern of
// exposing bus health without touching the hot path.
type Statistics struct {
	FramesSent         uint64
	FramesReceived     uint64
	TimeoutsByTimer    map[string]uint64
	ReassemblyFailures map[string]uint64
	LastError          error
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger overrides the default standard logrus logger, mirroring the
// teacher's NewSDOClient(bm, od, nodeId, timeoutMs, logger) constructor
// shape.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics attaches a Metrics recorder; see metrics.go.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is the per-peer ISO-TP transport engine (§4.E). It owns the
// address, a reference to the link's outbound queue, the reassembly
// buffer, the cached FC snapshot, the state bitset, and an event sink.
// One Session models exactly one peer pair, per spec.md's Non-goal
// against multi-session multiplexing inside a single instance — fanning
// out to many peers means constructing many Sessions sharing one
// Registry.
type Session struct {
	addr    Address
	cfg     *Config
	channel string
	link    Link

	registry *Registry
	unregister func()

	listener EventListener
	logger   *logrus.Entry
	metrics  *Metrics

	mu    sync.Mutex
	state uint8
	fc    flowCtrlState

	reassembler *Reassembler

	statsMu sync.Mutex
	stats   Statistics
}

// NewSession constructs a Session bound to addr on channel, registers it
// with registry for inbound dispatch, and returns it ready for Write.
func NewSession(addr Address, cfg *Config, channel string, link Link, registry *Registry, listener EventListener, opts ...Option) *Session {
	s := &Session{
		addr:        addr,
		cfg:         cfg,
		channel:     channel,
		link:        link,
		registry:    registry,
		listener:    listener,
		logger:      logrus.NewEntry(logrus.StandardLogger()),
		reassembler: NewReassembler(cfg),
		stats: Statistics{
			TimeoutsByTimer:    make(map[string]uint64),
			ReassemblyFailures: make(map[string]uint64),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unregister = registry.Register(channel, addr.RxID, addr.TxID, addr.FID, s)
	return s
}

// Close removes the Session from its Registry. It does not affect
// in-flight frames already enqueued on the Link.
func (s *Session) Close() {
	if s.unregister != nil {
		s.unregister()
	}
}

// Statistics returns a snapshot of the session's counters.
func (s *Session) Statistics() Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := Statistics{
		FramesSent:         s.stats.FramesSent,
		FramesReceived:     s.stats.FramesReceived,
		LastError:          s.stats.LastError,
		TimeoutsByTimer:    make(map[string]uint64, len(s.stats.TimeoutsByTimer)),
		ReassemblyFailures: make(map[string]uint64, len(s.stats.ReassemblyFailures)),
	}
	for k, v := range s.stats.TimeoutsByTimer {
		out.TimeoutsByTimer[k] = v
	}
	for k, v := range s.stats.ReassemblyFailures {
		out.ReassemblyFailures[k] = v
	}
	return out
}

func (s *Session) countTimeout(timer string) {
	s.statsMu.Lock()
	s.stats.TimeoutsByTimer[timer]++
	s.statsMu.Unlock()
	if s.metrics != nil {
		s.metrics.timeoutsTotal.WithLabelValues(timer).Inc()
	}
}

func (s *Session) countReassemblyFailure(kind string) {
	s.statsMu.Lock()
	s.stats.ReassemblyFailures[kind]++
	s.statsMu.Unlock()
	if s.metrics != nil {
		s.metrics.reassemblyFailuresTotal.WithLabelValues(kind).Inc()
	}
}

func (s *Session) countFrameSent() {
	s.statsMu.Lock()
	s.stats.FramesSent++
	s.statsMu.Unlock()
	if s.metrics != nil {
		s.metrics.framesSentTotal.Inc()
	}
}

func (s *Session) countFrameReceived() {
	s.statsMu.Lock()
	s.stats.FramesReceived++
	s.statsMu.Unlock()
	if s.metrics != nil {
		s.metrics.framesReceivedTotal.Inc()
	}
}

func (s *Session) setLastError(err error) {
	s.statsMu.Lock()
	s.stats.LastError = err
	s.statsMu.Unlock()
}

// withStateLocked runs fn with the state/FC lock held, emulating the
// source's poisoned-lock policy (§5): a panic inside fn is recovered,
// logged, and reported as ok=false rather than propagated or left to
// corrupt the lock for the next caller. Go's sync.Mutex has no poisoned
// state of its own; this recover is what stands in for it.
func (s *Session) withStateLocked(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Warn("isotp: recovered from poisoned session state lock")
			ok = false
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
	return true
}

func (s *Session) stateContains(flag uint8) bool {
	var result bool
	if !s.withStateLocked(func() { result = s.state&flag != 0 }) {
		return false
	}
	return result
}

func (s *Session) stateAppend(flag uint8) bool {
	return s.withStateLocked(func() { s.state |= flag })
}

func (s *Session) stateRemove(flag uint8) bool {
	return s.withStateLocked(func() { s.state &^= flag })
}

func (s *Session) stateSet(flag uint8) bool {
	return s.withStateLocked(func() { s.state = flag })
}

func (s *Session) cacheFlowControl(fc Frame) bool {
	return s.withStateLocked(func() { s.fc = newFlowCtrlState(fc) })
}

func (s *Session) flowControlSnapshot() flowCtrlState {
	var snap flowCtrlState
	s.withStateLocked(func() { snap = s.fc })
	return snap
}

func (s *Session) onConsecutiveSent() bool {
	return s.withStateLocked(func() {
		s.fc.onConsecutiveSent()
		if s.fc.blockExhausted() {
			s.state |= stateWaitFlowCtrl
		}
	})
}

// emit delivers one Event to the listener, recovering a panicking
// listener under the same poisoned-lock policy (§5: "the listener MUST
// NOT re-enter the session" — a panic is the other half of that contract
// failing, and we refuse to let it take down the caller's goroutine).
func (s *Session) emit(kind EventKind, data []byte, err error) {
	if s.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Warn("isotp: recovered from panicking event listener")
		}
	}()
	s.listener.OnEvent(Event{Kind: kind, Data: data, Err: err})
}

// transmit implements the §4.E transmit protocol. ctx governs every
// suspension point writeWaiting passes through: context.Background()
// gives the blocking flavor (session_blocking.go), any cancellable
// context gives the cooperative flavor (session_cooperative.go) — the two
// flavors differ only in what ctx they hand in, per §5's "write_waiting
// differs only in its sleep primitive".
func (s *Session) transmit(ctx context.Context, payload []byte, functional bool) error {
	s.stateSet(0)
	s.reassembler.Reset()
	s.cacheFlowControl(Frame{})

	frames, err := Segment(payload, s.cfg)
	if err != nil {
		return err
	}
	if functional && len(frames) > 1 {
		return invalidParam("functional addressing is only valid for single-frame transfers")
	}

	targetID := s.addr.TxID
	if functional {
		targetID = s.addr.FID
	}

	for i, frame := range frames {
		// State is always updated before the frame is enqueued: a Link may
		// report the transmit-ack, and the peer's Flow Control, from inside
		// Enqueue itself, and those reports must not be overwritten.
		if i == 0 && len(frames) > 1 {
			s.stateSet(stateSending | stateWaitFlowCtrl)
			if err := s.sendFrame(targetID, frame); err != nil {
				s.failTransmit(err)
				return err
			}
			continue
		}

		if err := s.writeWaiting(ctx, i); err != nil {
			s.failTransmit(err)
			return err
		}
		s.stateAppend(stateSending)
		if frame.Kind == KindConsecutive && i < len(frames)-1 {
			// Only re-arm WaitFlowCtrl on a block boundary if more frames
			// remain: the last frame's own drain wait below only needs
			// to see Sending clear, not a trailing FC nobody will send.
			s.onConsecutiveSent()
		}
		if err := s.sendFrame(targetID, frame); err != nil {
			s.failTransmit(err)
			return err
		}
	}

	// Drain: wait for the final frame's transmit-ack (or a trailing
	// timeout/error) before returning, so the caller never observes
	// success while the link is still mid-flight on the last frame.
	if err := s.writeWaiting(ctx, len(frames)); err != nil {
		s.failTransmit(err)
		return err
	}
	s.stateSet(0)
	return nil
}

func (s *Session) failTransmit(err error) {
	s.stateAppend(stateError)
	s.setLastError(err)
	s.emit(EventErrorOccurred, nil, err)
}

func (s *Session) sendFrame(id uint32, frame Frame) error {
	encoded, err := frame.Encode(s.cfg)
	if err != nil {
		return err
	}
	if !s.link.Enqueue(LinkFrame{ID: id, Data: encoded, Channel: s.channel}) {
		return ErrDeviceError
	}
	s.countFrameSent()
	return nil
}

// writeWaiting is the pacing gate entered before sending frame i (§4.E).
// It first honors any cached separation time, then spins on state
// observation with per-state timeout budgets, exactly as the Rust
// original's write_waiting (synchronous.rs): pace first, then spin.
func (s *Session) writeWaiting(ctx context.Context, i int) error {
	if fc := s.flowControlSnapshot(); fc.stMin > 0 {
		if err := sleepCtx(ctx, fc.stMin); err != nil {
			return contextError("write_waiting: " + err.Error())
		}
	}

	start := time.Now()
	const backoff = 10 * time.Microsecond

	for {
		if s.stateContains(stateError) {
			return ErrDeviceError
		}

		elapsed := time.Since(start)
		switch {
		case s.stateContains(stateSending) && elapsed > msDuration(s.cfg.Timeouts.AS):
			s.countTimeout("A_s")
			return timeoutError(uint64(s.cfg.Timeouts.AS), "ms")
		case s.stateContains(stateWaitBusy) && elapsed > msDuration(s.cfg.Timeouts.P2Star):
			s.countTimeout("P2*")
			return timeoutError(uint64(s.cfg.Timeouts.P2Star), "ms")
		case s.stateContains(stateWaitFlowCtrl) && elapsed > msDuration(s.cfg.Timeouts.CR):
			s.countTimeout("C_r")
			return timeoutError(uint64(s.cfg.Timeouts.CR), "ms")
		}

		if !s.stateContains(stateSending | stateWaitBusy | stateWaitFlowCtrl) {
			return nil
		}

		if err := sleepCtx(ctx, backoff); err != nil {
			return contextError("write_waiting: " + err.Error())
		}
	}
}

func msDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// handleTransmitComplete is the Link's report that the frame it was asked
// to send with this arbitration ID has gone out (§4.E receive protocol).
func (s *Session) handleTransmitComplete(id uint32) {
	if maskID(id) != maskID(s.addr.TxID) && maskID(id) != maskID(s.addr.FID) {
		return
	}
	s.stateRemove(stateSending)
}

// handleFrameReceived is the Link's report of one inbound frame addressed
// to this session's rx_id (§4.E receive protocol). Error is absorbing:
// nothing is processed until the next transmit resets it.
func (s *Session) handleFrameReceived(lf LinkFrame) {
	if maskID(lf.ID) != maskID(s.addr.RxID) {
		return
	}
	if s.stateContains(stateError) {
		return
	}
	s.countFrameReceived()

	frame, err := Decode(lf.Data, s.cfg)
	if err != nil {
		s.stateAppend(stateError)
		s.setLastError(err)
		s.emit(EventErrorOccurred, nil, err)
		return
	}

	switch frame.Kind {
	case KindSingle:
		s.emit(EventDataReceived, frame.Data, nil)

	case KindFirst:
		s.handleFirstFrame(frame)

	case KindConsecutive:
		s.handleConsecutiveFrame(frame)

	case KindFlowControl:
		s.handleFlowControlFrame(frame)
	}
}

func (s *Session) handleFirstFrame(frame Frame) {
	outcome := s.reassembler.Feed(frame)
	switch outcome.Kind {
	case OutcomeComplete:
		s.stateSet(0)
		s.emit(EventDataReceived, outcome.Data, nil)
	case OutcomeFirstReceived:
		fc := DefaultFlowControl(s.cfg)
		if err := s.sendFrame(s.addr.TxID, fc); err != nil {
			s.stateAppend(stateError)
			s.setLastError(err)
			s.emit(EventErrorOccurred, nil, err)
			return
		}
		s.stateAppend(stateSending)
		s.emit(EventFirstFrameReceived, nil, nil)
	}
}

func (s *Session) handleConsecutiveFrame(frame Frame) {
	outcome := s.reassembler.Feed(frame)
	switch outcome.Kind {
	case OutcomeComplete:
		s.stateSet(0)
		s.emit(EventDataReceived, outcome.Data, nil)
	case OutcomeWait:
		s.emit(EventWait, nil, nil)
	case OutcomeFail:
		s.countReassemblyFailure(outcome.Err.Error())
		s.stateAppend(stateError)
		s.setLastError(outcome.Err)
		s.emit(EventErrorOccurred, nil, outcome.Err)
	}
}

func (s *Session) handleFlowControlFrame(frame Frame) {
	switch frame.FCState {
	case FCContinues:
		s.cacheFlowControl(frame)
		s.stateRemove(stateWaitFlowCtrl | stateWaitBusy)
	case FCWait:
		s.stateAppend(stateWaitBusy)
	case FCOverload:
		s.stateAppend(stateError)
		s.setLastError(ErrOverloadFlow)
		s.emit(EventErrorOccurred, nil, ErrOverloadFlow)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
