// Package session turns an unordered, at-most-once byte channel between two
// parties into a consistent two-party chess session: agreed roles and
// settings, synchronized board replicas, symmetric clocks, in-band chat and
// call signaling, and resume after a restart.
//
// A Session is a single-goroutine actor. Every inbound transport event and
// every local command is processed to completion before the next one is
// read, so all mutable state has exactly one writer context and no locking.
package session

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jgalvez/chesslink/internal/proto"
	"github.com/jgalvez/chesslink/internal/rules"
	"github.com/jgalvez/chesslink/internal/store"
	"github.com/jgalvez/chesslink/internal/transport"
)

var (
	ErrGameOver     = errors.New("game already over")
	ErrNotReady     = errors.New("settings not agreed yet")
	ErrNotYourTurn  = errors.New("not your turn")
	ErrOfferPending = errors.New("draw offer already pending")
	ErrNoOffer      = errors.New("no draw offer to answer")
	ErrCallBusy     = errors.New("call already in progress")
	ErrNoCall       = errors.New("no call to answer")
	ErrNoResume     = errors.New("no resumable session")
	ErrStopped      = errors.New("session stopped")
)

// Analyzer is the analysis-engine collaborator. Both methods may block; the
// session only calls them from short-lived goroutines.
type Analyzer interface {
	Evaluate(fen string, depth int) (float64, error)
	BestMove(fen string, elo int) (string, error)
}

const (
	evalDepth    = 15
	inboxSize    = 64
	eventBufSize = 64
)

// Config assembles a Session. Settings non-nil makes this side the host: it
// unilaterally chose the parameters and announces them on channel-open.
type Config struct {
	Transport transport.Transport
	Settings  *proto.Settings
	RemoteID  string
	Store     store.SessionStore // optional; enables resume
	Analyzer  Analyzer           // optional; background eval + engine play
	AntiCheat bool               // relay local focus changes to the peer
	Ticks     <-chan time.Time   // clock source; nil means a real 1s ticker
	Logger    *zap.SugaredLogger
}

type Session struct {
	inbox  chan command
	events chan Event
	done   chan struct{}

	tr    transport.Transport
	trEvs <-chan transport.Event

	game       *rules.Game
	role       Role
	settings   *proto.Settings
	negotiated bool
	fresh      bool // channel replaced; drop moves until settings re-run
	connected  bool

	clock clockState

	callState        CallState
	drawOfferPending bool // peer offered to us
	drawOfferSent    bool // we offered to the peer
	outcome          *Outcome

	remoteID  string
	antiCheat bool
	st        store.SessionStore
	analyzer  Analyzer
	ticks     <-chan time.Time
	log       *zap.SugaredLogger
}

// New starts the session loop immediately. Negotiation runs as soon as the
// transport reports Open.
func New(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Session{
		inbox:     make(chan command, inboxSize),
		events:    make(chan Event, eventBufSize),
		done:      make(chan struct{}),
		tr:        cfg.Transport,
		trEvs:     cfg.Transport.Events(),
		game:      rules.NewGame(),
		role:      RoleGuest,
		callState: CallIdle,
		remoteID:  cfg.RemoteID,
		antiCheat: cfg.AntiCheat,
		st:        cfg.Store,
		analyzer:  cfg.Analyzer,
		ticks:     cfg.Ticks,
		log:       log,
	}
	if cfg.Settings != nil {
		cp := *cfg.Settings
		s.role = RoleHost
		s.settings = &cp
		s.negotiated = true
		s.initClock()
	}
	go s.run()
	return s
}

// Resume rebuilds a session from the persisted snapshot, taking the host
// role with the saved settings so negotiation re-runs without the user
// reselecting color or clock. cfg.Transport must already point at the saved
// remote identity (see State/RemoteID to dial).
func Resume(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, ErrNoResume
	}
	p, ok, err := cfg.Store.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoResume
	}
	cfg.Settings = &p.Settings
	cfg.RemoteID = p.RemoteID
	return New(cfg), nil
}

// Events delivers session notifications. Closed when the session stops.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the loop has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) run() {
	ticks := s.ticks
	if ticks == nil {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		ticks = t.C
	}
	for {
		select {
		case c := <-s.inbox:
			if st, ok := c.(stopCmd); ok {
				s.teardown(st)
				return
			}
			s.handleCommand(c)
		case ev, ok := <-s.trEvs:
			if !ok {
				s.trEvs = nil
				continue
			}
			s.handleTransport(ev)
		case <-ticks:
			s.clockTick()
		}
	}
}

func (s *Session) teardown(st stopCmd) {
	_ = s.tr.Close()
	if st.clear && s.st != nil {
		if err := s.st.Clear(); err != nil {
			s.log.Warnw("clear persisted session", "err", err)
		}
	}
	s.clock.stopped = true
	s.callState = CallIdle
	close(s.events)
	close(s.done)
	if st.ack != nil {
		close(st.ack)
	}
}

// emit never blocks; events overflowing the buffer are dropped.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debugw("event dropped", "event", ev)
	}
}

func (s *Session) send(msg proto.SessionMessage) {
	if err := s.tr.Send(msg); err != nil {
		s.log.Debugw("send failed", "type", msg.Type, "err", err)
	}
}

func (s *Session) localColor() proto.Color {
	return s.settings.Color
}

// persist snapshots settings and remote identity so a restart can
// re-establish the same logical match.
func (s *Session) persist() {
	if s.st == nil || s.settings == nil {
		return
	}
	err := s.st.Save(store.Persisted{Settings: *s.settings, RemoteID: s.remoteID})
	if err != nil {
		s.log.Warnw("persist session", "err", err)
	}
}

func (s *Session) setOutcome(result Result, winner proto.Color) {
	if s.outcome != nil {
		// First local outcome wins; no cross-peer arbitration.
		return
	}
	s.outcome = &Outcome{Result: result, Winner: winner}
	s.clock.stopped = true
	s.callState = CallIdle
	s.emit(GameEnded{Outcome: *s.outcome})
}
