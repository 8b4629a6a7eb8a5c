package radio

import "errors"

var (
	ErrNotFound         = errors.New("channel not found")
	ErrDuplicateChannel = errors.New("channel already exists")
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrClosed           = errors.New("queue closed")
	ErrStopped          = errors.New("radio is stopping")

	errNoOutput = errors.New("decoder exited without output")
)
