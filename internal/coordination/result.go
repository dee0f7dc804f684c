package coordination

import (
	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
)

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
}

// Result is the structured outcome of a Hub operation.
type Result[T any] struct {
	OK    bool       `json:"ok"`
	Data  T          `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

func errorBody(err error) *ErrorBody {
	return &ErrorBody{
		Code:    apperrors.CodeOf(err),
		Message: err.Error(),
		Field:   apperrors.FieldOf(err),
	}
}

// structured reports whether err carries a code callers can act on.
// Uncoded errors are storage or programming failures.
func structured(err error) bool {
	code := apperrors.CodeOf(err)
	return code != "" && code != apperrors.CodeInternal
}
