package stream

import (
	"errors"
	"fmt"
)

// ErrMissingAttribute is returned when an action tag lacks a field its type requires.
var ErrMissingAttribute = errors.New("missing required attribute")

// ErrInvalidAttribute is returned when a required attribute has an unusable value.
var ErrInvalidAttribute = errors.New("invalid attribute value")

// ParseError is a parse-fatal error for one message. Once returned, the
// message keeps failing with the same error until it is reset.
type ParseError struct {
	MessageID string
	// Tag is the raw opening tag that could not be accepted.
	Tag       string
	Attribute string
	// Offset is the byte offset of the tag in the pre-processed text.
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("message %s: tag at offset %d: %s %q", e.MessageID, e.Offset, e.Err, e.Attribute)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
