package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMalformedResponse indicates the server body could not be decoded.
	ErrMalformedResponse = errors.New("api: malformed response body")
	// ErrDeleteRejected indicates the server answered a chat deletion with
	// success=false despite a 2xx status.
	ErrDeleteRejected = errors.New("api: chat deletion rejected by server")
)

// ServerError carries a non-2xx response together with the server-supplied
// error text when the body had one.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: unexpected status %d", e.Status)
}

// IsAuthError reports whether err is a server rejection of the caller's
// credentials or token (the 401/403 class).
func IsAuthError(err error) bool {
	var se *ServerError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
}
