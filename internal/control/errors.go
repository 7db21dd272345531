package control

import (
	"errors"
	"fmt"
)

// Sentinel errors for control stream handling.
var (
	ErrMessageTooLarge = errors.New("control: message payload exceeds 65535 bytes")
	ErrUnknownMessage  = errors.New("control: unknown message type")
)

// ParseError indicates a failure to decode a control message. It records
// which message or field was being decoded.
type ParseError struct {
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("control: parse %s: %v", e.Field, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
