package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrTransport marks network-level failures: unreachable host, timeout, reset.
	ErrTransport = errors.New("transport failure")
	// ErrProtocol marks payloads that could not be decoded.
	ErrProtocol = errors.New("protocol failure")
)

// RequestError is an application-level failure reported by the remote service.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return "http error"
}

// Retryable reports whether the same request could succeed later.
func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// Kind classifies an error returned by the client.
type Kind int

// Error kinds.
const (
	KindNone Kind = iota
	KindTransport
	KindApplication
	KindProtocol
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindApplication:
		return "application"
	case KindProtocol:
		return "protocol"
	}
	return "other"
}

// Classify maps err onto the client's error taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return KindApplication
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrTransport):
		return KindTransport
	}
	return KindOther
}
