package exception

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionClose = errors.New("connection closed")
	ErrInResponseError = errors.New("there is an error in response error field")
)

// StatusError carries a non-2xx HTTP response from the exchange so the
// resilience layer can branch on the status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("exchange: http status %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status from an error chain, 0 when absent.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
