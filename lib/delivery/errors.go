package delivery

import (
	"errors"
	"fmt"
)

// ErrNothingDelivered is returned when every chunk of a partition failed.
var ErrNothingDelivered = errors.New("no chunk was delivered")

// ErrPartitionBusy is returned when a partition is already being delivered.
var ErrPartitionBusy = errors.New("partition is already being delivered")

// Category is the failure class of a single chunk attempt.
type Category int

const (
	// connection failures, always retryable within the budget
	TransientNetwork Category = iota
	// a retryable status code
	TransientServer
	// any other status, fails only that chunk
	TerminalClient
)

func (c Category) String() string {
	switch c {
	case TransientNetwork:
		return "transient-network"
	case TransientServer:
		return "transient-server"
	case TerminalClient:
		return "terminal-client"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// RetryableStatus is the set of status codes worth resending a chunk for.
var RetryableStatus = map[int]bool{
	500: true,
	502: true,
	503: true,
	504: true,
}

// StatusError is a non-2xx response from the ingestion endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ingestion endpoint responded %d", e.StatusCode)
	}
	return fmt.Sprintf("ingestion endpoint responded %d: %s", e.StatusCode, e.Body)
}

// Classify places an attempt error in the failure taxonomy. Errors that
// carry no status are connection level.
func Classify(err error) Category {
	var status *StatusError
	if errors.As(err, &status) {
		if RetryableStatus[status.StatusCode] {
			return TransientServer
		}
		return TerminalClient
	}
	return TransientNetwork
}

// Retryable reports whether a failed attempt may be resent.
func Retryable(err error) bool {
	return Classify(err) != TerminalClient
}
