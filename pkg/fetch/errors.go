package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrNetwork is matched (via errors.Is) by every failure to obtain a
// response from the network. HTTP error statuses are responses, not
// network failures.
var ErrNetwork = errors.New("network unavailable")

// ErrorClass represents a classification of fetch failures.
type ErrorClass string

const (
	// ErrorClassOffline represents a connection that could not be made.
	ErrorClassOffline ErrorClass = "offline"

	// ErrorClassTimeout represents a deadline exceeded while waiting for the origin.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassCancelled represents a request abandoned by its caller.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassNetwork represents any other transport failure.
	ErrorClassNetwork ErrorClass = "network"
)

// NetworkError represents a failed network attempt with its class.
type NetworkError struct {
	Class ErrorClass
	URL   string
	Err   error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("fetch %s error: %s: %v", e.Class, e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s error: %v", e.Class, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is reports every NetworkError as ErrNetwork.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// Classify returns the error class of a transport error.
func Classify(err error) ErrorClass {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Class
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ErrorClassTimeout
		}
		if opErr.Op == "dial" {
			return ErrorClassOffline
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorClassOffline
	}

	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return ErrorClassTimeout
	}

	return ErrorClassNetwork
}

// Wrap converts a transport error into a *NetworkError. nil stays nil and
// errors that already match ErrNetwork are returned unchanged.
func Wrap(url string, err error) error {
	if err == nil || errors.Is(err, ErrNetwork) {
		return err
	}
	return &NetworkError{Class: Classify(err), URL: url, Err: err}
}
