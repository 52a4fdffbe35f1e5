package entity

import "fmt"

type ErrorKind string

const (
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindNavigation    ErrorKind = "navigation"
	ErrorKindScript        ErrorKind = "script"
	ErrorKindPoolExhausted ErrorKind = "pool_exhausted"
	ErrorKindQueueFull     ErrorKind = "queue_full"
	ErrorKindCorrupted     ErrorKind = "corrupted"
	ErrorKindUnknown       ErrorKind = "unknown"
)

// ClassifiedError tags an underlying error with the failure kind the
// retry policy keys on.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func Classified(kind ErrorKind, err error) error {
	return &ClassifiedError{Kind: kind, Err: err}
}
