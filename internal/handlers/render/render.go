package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

type Struct any

// Single error of the response, Field is empty if error is not about a field
type FieldError struct {
	Message string `json:"message"`
	Field   string `json:"field"`
}

type ErrorsResponse struct {
	ErrorsMessages []FieldError `json:"errorsMessages"`
}

func JSON(w http.ResponseWriter, data any) {
	jsonWithStatus(w, data, http.StatusOK)
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Render errors list with status code
func Errors(w http.ResponseWriter, code int, errs ...FieldError) {
	if errs == nil {
		errs = []FieldError{}
	}
	jsonWithStatus(w, ErrorsResponse{ErrorsMessages: errs}, code)
}

// Render single error not bound to a field
func ServiceError(w http.ResponseWriter, message string, code int) {
	Errors(w, code, FieldError{Message: message})
}

// Render authentication failure
// The body is the same whatever check failed, so client can't tell them apart
func Unauthorized(w http.ResponseWriter) {
	ServiceError(w, "Unauthorized", http.StatusUnauthorized)
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, err error) {
	// Try to provide more specific error message based on error type
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		Errors(w, http.StatusBadRequest, FieldError{
			Message: fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field),
			Field:   typeErr.Field,
		})
		return
	}

	ServiceError(w, fmt.Sprintf("Failed to parse JSON: %s", err.Error()), http.StatusBadRequest)
}

// Render ValidationErrors, one message per failed field
func ValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	messages := make([]FieldError, 0, len(errs))

	// Create user-friendly error messages based on validation tag
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required", "notblank":
			message = "This field is required"
		case "min":
			message = fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		case "email":
			message = "Invalid email format"
		default:
			message = "Invalid value"
		}

		messages = append(messages, FieldError{Message: message, Field: fieldError.Field()})
	}

	Errors(w, http.StatusBadRequest, messages...)
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	err := json.NewDecoder(r.Body).Decode(&value)
	if err != nil {
		DecodeError(w, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			ValidationErrors(w, errs)
		} else {
			ServiceError(w, "Request validation failed", http.StatusBadRequest)
		}
		return value, err
	}

	return value, nil
}

// renderJSONWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
