// Package sender is the outbound email transport used by the dispatch
// worker. Implementations classify their failures so the worker can tell a
// retryable error from a terminal one.
package sender

import (
	"context"
	"errors"
	"fmt"
)

type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	// Tags are passed to providers that support message tagging.
	Tags map[string]string
}

type Result struct {
	MessageID string
	Provider  string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// DeliveryError is a transport failure with its retry class attached.
// Permanent failures (rejected address, refused credentials) will fail again
// on every retry.
type DeliveryError struct {
	Permanent bool
	Code      int
	Message   string
	Err       error
}

func (e *DeliveryError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func Permanent(msg string, err error) error {
	return &DeliveryError{Permanent: true, Message: msg, Err: err}
}

func Temporary(msg string, err error) error {
	return &DeliveryError{Permanent: false, Message: msg, Err: err}
}

// IsPermanent reports whether err is a DeliveryError marked permanent. Any
// other error is treated as transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Permanent
	}
	return false
}
