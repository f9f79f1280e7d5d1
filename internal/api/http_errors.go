package api

import (
	"errors"
	"net/http"
	"regexp"

	"github.com/taskforge/taskforge/internal/core"
)

const (
	categoryValidation        = core.ErrCatValidation
	categoryInvalidTransition = core.ErrCatInvalidTransition
)

var taskIDRegexp = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)

// taskIDPattern re-checks the opaque-id shape at the HTTP layer; it
// mirrors core.ValidTaskID rather than importing a core.TaskID value
// out of a raw path parameter before validation.
func taskIDPattern(id string) bool {
	return taskIDRegexp.MatchString(id)
}

// categoryOf and codeOf extract a DomainError's classification for
// respondDomainError's envelope selection; both are the zero value for
// a non-domain error, which httpStatusForDomainError already rejects
// before either is consulted.
func categoryOf(err error) core.ErrorCategory {
	return core.GetCategory(err)
}

func codeOf(err error) string {
	var domErr *core.DomainError
	if errors.As(err, &domErr) {
		return domErr.Code
	}
	return ""
}

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatConflict:
		return http.StatusConflict, true
	case core.ErrCatAuth:
		return http.StatusUnauthorized, true
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatInvalidTransition:
		return http.StatusBadRequest, true
	case core.ErrCatNoBackend:
		return http.StatusBadRequest, true
	case core.ErrCatBackendFailure:
		return http.StatusBadGateway, true
	case core.ErrCatMergeConflict:
		return http.StatusConflict, true
	case core.ErrCatCleanupFailure:
		return http.StatusInternalServerError, true
	default:
		return http.StatusInternalServerError, true
	}
}
