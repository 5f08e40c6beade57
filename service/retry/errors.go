package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTransient = errors.New("transient failure")
	ErrPermanent = errors.New("permanent failure")

	// ErrPollTimeout is transient so the caller's retry policy starts a fresh
	// generation instead of re-polling a handle that may not survive.
	ErrPollTimeout = fmt.Errorf("%w: operation did not finish before the poll timeout", ErrTransient)
)

type classified struct {
	marker     error
	err        error
	retryAfter time.Duration
}

func (e *classified) Error() string {
	return e.err.Error()
}

func (e *classified) Unwrap() []error {
	return []error{e.marker, e.err}
}

// Transient tags err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{marker: ErrTransient, err: err}
}

// Permanent tags err so retry loops give up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classified{marker: ErrPermanent, err: err}
}

// WithRetryAfter tags err as transient with a server supplied delay hint.
func WithRetryAfter(err error, d time.Duration) error {
	if err == nil {
		return nil
	}
	return &classified{marker: ErrTransient, err: err, retryAfter: d}
}

// RetryAfter returns the delay hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var c *classified
	if errors.As(err, &c) && c.retryAfter > 0 {
		return c.retryAfter, true
	}
	return 0, false
}

// IsTransient reports whether a retry may succeed. The outermost explicit
// classification wins; unclassified errors are assumed transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var c *classified
	if errors.As(err, &c) {
		return c.marker == ErrTransient
	}
	switch {
	case errors.Is(err, ErrPermanent):
		return false
	case errors.Is(err, ErrTransient):
		return true
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return true
}

func IsPermanent(err error) bool {
	return err != nil && !IsTransient(err)
}

// StatusError is a non-2xx reply from a remote generation service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("http status %d", e.StatusCode)
	if e.StatusCode == http.StatusPaymentRequired {
		msg += " (quota exhausted)"
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// FromStatus classifies an HTTP status: 408, 425, 429 and 5xx are transient,
// everything else (402 quota exhaustion included) is permanent.
func FromStatus(code int, body string, retryAfter time.Duration) error {
	statusErr := &StatusError{StatusCode: code, Body: snippet(body), RetryAfter: retryAfter}
	switch {
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= http.StatusInternalServerError:
		return &classified{marker: ErrTransient, err: statusErr, retryAfter: retryAfter}
	default:
		return &classified{marker: ErrPermanent, err: statusErr}
	}
}

// FromResponse reads a failed response body and classifies it.
func FromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	retryAfter, _ := ParseRetryAfter(resp.Header.Get("Retry-After"))
	return FromStatus(resp.StatusCode, string(body), retryAfter)
}

// ParseRetryAfter accepts delta seconds or an HTTP date.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func snippet(body string) string {
	clean := strings.Join(strings.Fields(body), " ")
	const limit = 200
	if runes := []rune(clean); len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return clean
}
