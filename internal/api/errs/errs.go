// Package errs provides the error type rendered by every API handler.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// ErrCode classifies an API error and selects its HTTP status.
type ErrCode struct {
	name   string
	status int
}

func (c ErrCode) String() string { return c.name }

// HTTPStatus returns the status code responses with this code carry.
func (c ErrCode) HTTPStatus() int { return c.status }

// Error codes understood by the API.
var (
	InvalidArgument    = ErrCode{name: "invalid_argument", status: http.StatusBadRequest}
	NotFound           = ErrCode{name: "not_found", status: http.StatusNotFound}
	FailedPrecondition = ErrCode{name: "failed_precondition", status: http.StatusConflict}
	Internal           = ErrCode{name: "internal", status: http.StatusInternalServerError}
	Unavailable        = ErrCode{name: "unavailable", status: http.StatusServiceUnavailable}
)

// Error is the body of every failed response.
type Error struct {
	Code    ErrCode           `json:"-"`
	Message string            `json:"error"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// New builds an Error from err. Validation failures produced by Check keep
// their per-field messages.
func New(code ErrCode, err error) *Error {
	e := &Error{Code: code, Message: err.Error()}

	var fe FieldErrors
	if errors.As(err, &fe) {
		e.Message = "validation failed"
		e.Fields = fe.Fields()
	}
	return e
}

// Newf builds an Error from a formatted message.
func Newf(code ErrCode, format string, v ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

func (e *Error) Error() string { return e.Message }

// Render implements render.Renderer.
func (e *Error) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code.HTTPStatus())
	return nil
}

// Write renders err as a JSON response.
func Write(w http.ResponseWriter, r *http.Request, err *Error) {
	if rerr := render.Render(w, r, err); rerr != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
