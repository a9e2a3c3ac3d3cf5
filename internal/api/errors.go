package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/roomchat/internal/chat"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"

	genericFailureText = "Something went very wrong!"
)

// ApiError is the JSON body of every failed request. Status is "fail" for
// client errors and "error" for server errors.
type ApiError struct {
	StatusCode int      `json:"-"`
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	Stack      string   `json:"stack,omitempty"`
	Err        error    `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}

	return e.Message
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func statusFor(code int) string {
	if code >= http.StatusInternalServerError {
		return statusError
	}
	return statusFail
}

func NewApiError(code int, msg string) *ApiError {
	return &ApiError{
		StatusCode: code,
		Status:     statusFor(code),
		Message:    msg,
	}
}

func NewBadRequestError(msg string) *ApiError {
	return NewApiError(http.StatusBadRequest, msg)
}

func NewUnauthorizedError(msg string) *ApiError {
	return NewApiError(http.StatusUnauthorized, msg)
}

func NewNotFoundError(msg string) *ApiError {
	return NewApiError(http.StatusNotFound, msg)
}

// NewValidationError reports every failed field rule at once.
func NewValidationError(verrs validator.ValidationErrors) *ApiError {
	errs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fieldMessage(fe))
	}

	return &ApiError{
		StatusCode: http.StatusBadRequest,
		Status:     statusFail,
		Errors:     errs,
	}
}

func NewTooManyRequestsError() *ApiError {
	return NewApiError(http.StatusTooManyRequests, "Too many requests, please try again later")
}

func NewInternalServerError(err error) *ApiError {
	return &ApiError{
		StatusCode: http.StatusInternalServerError,
		Status:     statusError,
		Message:    genericFailureText,
		Err:        err,
	}
}

var (
	errMalformedBody  = NewBadRequestError("Invalid request body")
	errUserNotFound   = NewNotFoundError("User not found")
	errDuplicateEmail = NewBadRequestError("User with this email already exists")
)

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// toApiError maps err to its response. Operational errors keep their code
// and message; anything else becomes a 500.
func (s *GoChatApp) toApiError(err error) *ApiError {
	var apiErr *ApiError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return apiErr
	}

	if opErr, ok := chat.AsError(err); ok {
		return NewApiError(opErr.Code, opErr.Message)
	}

	if apiErr == nil {
		apiErr = NewInternalServerError(err)
	}

	if s.verboseErrors {
		res := *apiErr
		res.Message = err.Error()

		var st stackTracer
		if errors.As(err, &st) {
			res.Stack = fmt.Sprintf("%+v", st.StackTrace())
		}
		return &res
	}

	return apiErr
}

// writeError is the single place failed requests are answered.
func (s *GoChatApp) writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := s.toApiError(err)

	if apiErr.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestId(r.Context())),
			zap.Error(err),
		)
	}

	s.writeJson(w, apiErr.StatusCode, apiErr)
}
