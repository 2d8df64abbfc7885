package player

import (
	"errors"
	"fmt"
)

var (
	ErrUserInput  = errors.New("invalid user input")
	ErrNotInVoice = fmt.Errorf("%w: requester is not in a voice channel", ErrUserInput)
	ErrNotJoined  = errors.New("not connected to voice")
	ErrWrongState = errors.New("operation not valid in current state")
	ErrResolution = errors.New("media resolution failed")
	ErrTransport  = errors.New("voice transport failed")
	ErrHandoff    = errors.New("could not hand task to player")
	ErrClosed     = fmt.Errorf("%w: player closed", ErrHandoff)
)

// IsBenign reports errors that are expected during normal use and only worth
// a debug line.
func IsBenign(err error) bool {
	return errors.Is(err, ErrUserInput) || errors.Is(err, ErrNotJoined) || errors.Is(err, ErrWrongState)
}
