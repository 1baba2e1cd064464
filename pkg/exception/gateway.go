package exception

import "errors"

var (
	ErrFeedNotSubscribed = errors.New("gateway: feed not subscribed")
	ErrFeedDown          = errors.New("gateway: feed permanently down")
	ErrUnknownFeedKind   = errors.New("gateway: unknown feed kind")
)
