package commands

import (
	"errors"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitInternal      = 1
	ExitValidation    = 2
	ExitApplyFailed   = 3
	ExitCancelled     = 4
	ExitStateConflict = 5
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var pf *engine.PartialFailureError
	if errors.As(err, &pf) {
		return ExitApplyFailed
	}

	switch engine.KindOf(err) {
	case engine.KindConfig, engine.KindUnsupportedCombination, engine.KindCycle:
		return ExitValidation
	case engine.KindProviderValidation, engine.KindProviderTransient:
		return ExitApplyFailed
	case engine.KindCancelled:
		return ExitCancelled
	case engine.KindStateConflict:
		return ExitStateConflict
	}
	return ExitInternal
}
