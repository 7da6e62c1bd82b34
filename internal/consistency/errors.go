package consistency

import (
	"errors"
	"fmt"
)

// ErrNotCompleted is returned by Repair on a check whose scan did not finish.
var ErrNotCompleted = errors.New("consistency check not completed")

// ErrAlreadyRepaired is returned by a second Repair on the same check.
var ErrAlreadyRepaired = errors.New("consistency check already repaired")

// StorageCorruptionError aborts a check before scanning: the index failed
// its own integrity validation and cannot be trusted or repaired in place.
type StorageCorruptionError struct {
	Err error
}

func (e *StorageCorruptionError) Error() string {
	return fmt.Sprintf("index storage corrupt: %v", e.Err)
}

func (e *StorageCorruptionError) Unwrap() error {
	return e.Err
}

// RepairError reports the repair that stopped an abort-on-failure pass.
type RepairError struct {
	Inconsistency Inconsistency
	Err           error
}

func (e *RepairError) Error() string {
	return fmt.Sprintf("repair %s %s: %v", e.Inconsistency.Kind, e.Inconsistency.URI, e.Err)
}

func (e *RepairError) Unwrap() error {
	return e.Err
}
