package proto

import (
	"errors"
	"strconv"
	"strings"
)

// Unlimited is the TimeControl value for clockless games.
const Unlimited = "unlimited"

var ErrBadTimeControl = errors.New("bad time control")

// Clock is a parsed TimeControl. InitialSec and IncrementSec are zero when
// Unlimited is set.
type Clock struct {
	Unlimited    bool
	InitialSec   int
	IncrementSec int
}

// ParseTimeControl parses "unlimited" or "min+inc" ("10+0", "3+2").
func ParseTimeControl(tc string) (Clock, error) {
	if tc == "" || tc == Unlimited {
		return Clock{Unlimited: true}, nil
	}
	minStr, incStr, found := strings.Cut(tc, "+")
	if !found {
		return Clock{}, ErrBadTimeControl
	}
	min, err := strconv.Atoi(minStr)
	if err != nil || min <= 0 {
		return Clock{}, ErrBadTimeControl
	}
	inc, err := strconv.Atoi(incStr)
	if err != nil || inc < 0 {
		return Clock{}, ErrBadTimeControl
	}
	return Clock{InitialSec: min * 60, IncrementSec: inc}, nil
}
