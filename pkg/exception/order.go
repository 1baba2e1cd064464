package exception

import "errors"

var (
	ErrOrderNotFound        = errors.New("order: not found")
	ErrOrderNotAcknowledged = errors.New("order: exchange id not yet known")
	ErrOrderTerminal        = errors.New("order: already in terminal status")
	ErrFillDuplicate        = errors.New("order: duplicate trade id")
	ErrFillUnknownOrder     = errors.New("order: fill references unknown order")
)
