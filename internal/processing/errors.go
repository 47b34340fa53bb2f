package processing

import (
	"errors"
	"fmt"
)

// Pipeline step failures. Each one leaves the record failed and the ledger
// unchanged, except ErrInvalidRange which restores the prior status.
var (
	ErrFetchFailed   = errors.New("fetch failed")
	ErrExtractFailed = errors.New("extract failed")
	ErrPublishFailed = errors.New("publish failed")
	ErrInvalidRange  = errors.New("invalid range")
)

// Error is returned for any failure after a segment operation has started.
// errors.Is matches both Kind and the underlying cause.
type Error struct {
	Kind     error
	RecordID string
	Index    int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("record %s segment %d: %v: %v", e.RecordID, e.Index, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == e.Kind }

// KindOf returns the pipeline step that failed, or nil when err is not a
// pipeline error.
func KindOf(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return nil
}
