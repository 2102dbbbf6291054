package session

import (
	"github.com/jgalvez/chesslink/internal/proto"
)

// Low-time alert thresholds, in seconds, for the side whose turn it is.
var lowTimeAlerts = []int{20, 10}

// clockState is the symmetric countdown clock. Each client runs its own
// copy; there is no cross-peer confirmation of a timeout.
type clockState struct {
	spec    proto.Clock
	white   int
	black   int
	stopped bool
}

func (s *Session) initClock() {
	spec, err := proto.ParseTimeControl(s.settings.TimeControl)
	if err != nil {
		s.log.Warnw("bad time control, playing unlimited", "tc", s.settings.TimeControl)
		spec = proto.Clock{Unlimited: true}
	}
	s.clock = clockState{spec: spec, white: spec.InitialSec, black: spec.InitialSec}
}

// clockTick decrements exactly one side: the color on turn. The other
// color's clock is frozen.
func (s *Session) clockTick() {
	if !s.negotiated || s.outcome != nil || s.clock.stopped || s.clock.spec.Unlimited {
		return
	}
	if s.settings.Mode == proto.ModePVP && !s.connected {
		// The match is suspended while the channel is down; a reconnect
		// resumes ticking.
		return
	}
	turn := s.game.Turn()
	remaining := s.clock.decrement(turn)
	for _, at := range lowTimeAlerts {
		if remaining == at {
			s.emit(LowTime{Color: turn, Remaining: remaining})
		}
	}
	if remaining == 0 {
		s.setOutcome(ResultTimeout, turn.Other())
	}
}

func (c *clockState) decrement(turn proto.Color) int {
	p := c.side(turn)
	if *p > 0 {
		*p--
	}
	return *p
}

func (c *clockState) addIncrement(mover proto.Color) {
	if c.spec.Unlimited || c.spec.IncrementSec == 0 || c.stopped {
		return
	}
	*c.side(mover) += c.spec.IncrementSec
}

func (c *clockState) side(color proto.Color) *int {
	if color == proto.White {
		return &c.white
	}
	return &c.black
}
