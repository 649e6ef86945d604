package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"qms/token-service/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type errorResponse struct {
	Success   bool          `json:"success"`
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// mapError translates the store error taxonomy into status, code and message.
// Messages of 500s never leak internals.
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrSeriesNotFound):
		return http.StatusNotFound, "series_not_found", "series not found"
	case errors.Is(err, store.ErrBranchNotFound):
		return http.StatusNotFound, "branch_not_found", "branch not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrSubServiceNotFound):
		return http.StatusNotFound, "sub_service_not_found", "sub-service not found"
	case errors.Is(err, store.ErrDeskNotFound):
		return http.StatusNotFound, "desk_not_found", "desk not found"
	case errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found", "user not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access_denied", err.Error()
	case errors.Is(err, store.ErrConfiguration):
		return http.StatusUnprocessableEntity, "configuration_error", err.Error()
	case errors.Is(err, store.ErrRangeExhausted):
		return http.StatusConflict, "range_exhausted", "series range exhausted"
	case errors.Is(err, store.ErrEmployeeOnBreak):
		return http.StatusConflict, "employee_on_break", "employee is on break"
	case errors.Is(err, store.ErrEmployeeOffShift):
		return http.StatusConflict, "employee_off_shift", "employee has not started a shift"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", err.Error()
	case errors.Is(err, store.ErrDeskUnavailable):
		return http.StatusConflict, "desk_unavailable", "desk is not active"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, dataResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a strict JSON body into dst and runs struct validation.
func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return store.Invalid("invalid JSON payload")
	}
	return validateStruct(dst)
}

func validateStruct(value interface{}) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return store.Invalid("%v", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, describeFieldError(fe))
	}
	return store.Invalid("%s", strings.Join(parts, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s must be a UUID", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be an email address", fe.Field())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}

func pathID(r *http.Request, name string) (string, error) {
	value := strings.TrimSpace(r.PathValue(name))
	if _, err := uuid.Parse(value); err != nil {
		return "", store.Invalid("%s must be a UUID", name)
	}
	return value, nil
}
