package pipeline

import (
	"fmt"
)

// StageFailure is a configuration component that exited with a nonzero
// status, or a stage step that failed on its own.
type StageFailure struct {
	Stage string
	Code  int
	Err   error
}

func (e *StageFailure) Error() string {
	switch {
	case e.Err != nil && e.Code != 0:
		return fmt.Sprintf("%s failed with code %d: %v", e.Stage, e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s failed with code %d", e.Stage, e.Code)
	}
}

func (e *StageFailure) Unwrap() error { return e.Err }

// InstallError ends an install run. It names the stage that failed.
type InstallError struct {
	Stage string
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install failed at stage %s: %v", e.Stage, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }
