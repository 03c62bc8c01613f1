package pipeline

import "errors"

// Stage names a pipeline step in errors, logs and spans.
type Stage string

const (
	StageHashOriginal  Stage = "hash-original"
	StageKeygen        Stage = "keygen"
	StageSign          Stage = "sign"
	StagePerturb       Stage = "perturb"
	StageCloak         Stage = "cloak"
	StageHashProtected Stage = "hash-protected"
	StageCertificate   Stage = "certificate"
)

// StageError tags a failure with the stage that produced it. The underlying
// error (usually an *errs.Error) stays reachable through errors.As.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return "pipeline: " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the failing stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
