/*
errors.go - Error-to-HTTP mapping

PURPOSE:
  Translates engine errors into stable machine-readable kinds and HTTP
  statuses. Internal storage errors are never leaked verbatim; the caller
  gets a generic indicator plus the request id for server-side diagnosis.
*/
package api

import (
	"errors"
	"net/http"

	"github.com/openpcr/caseflow/workflow"
)

// Kind is the machine-readable error discriminator in every error body.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindStageIllegal    Kind = "stage_illegal"
	KindLedgerViolation Kind = "ledger_violation"
	KindStorage         Kind = "storage_error"
)

func classify(err error) (int, Kind, string) {
	switch {
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest, KindValidation, err.Error()
	case errors.Is(err, workflow.ErrStageIllegal):
		return http.StatusBadRequest, KindStageIllegal, err.Error()
	case errors.Is(err, workflow.ErrUnauthenticated):
		return http.StatusUnauthorized, KindUnauthenticated, "authentication required"
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden, KindForbidden, "not permitted"
	case errors.Is(err, workflow.ErrCaseNotFound):
		return http.StatusNotFound, KindNotFound, "case not found"
	case errors.Is(err, workflow.ErrDuplicateNaturalKey),
		errors.Is(err, workflow.ErrStageConflict),
		errors.Is(err, workflow.ErrCaseTerminal),
		errors.Is(err, workflow.ErrInsufficientFunds):
		return http.StatusConflict, KindConflict, err.Error()
	case errors.Is(err, workflow.ErrLedgerViolation):
		return http.StatusConflict, KindLedgerViolation, err.Error()
	default:
		return http.StatusInternalServerError, KindStorage, "internal error"
	}
}
