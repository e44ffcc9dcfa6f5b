package api

import (
	"errors"
	"net/http"

	repository "github.com/okian/railflow/internal/adapters/repository"
	"github.com/okian/railflow/internal/collect"
	"github.com/okian/railflow/internal/domain/model"
	"github.com/okian/railflow/internal/domain/pattern"
	"github.com/okian/railflow/internal/domain/prediction"
	"github.com/okian/railflow/internal/domain/schedule"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrNotFound     = errors.New("not found")
	ErrTooLarge     = errors.New("request body too large")
)

// Error carries the handler operation and the kind that selects the status.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Op + ": " + e.Kind.Error()
	case e.Kind == nil:
		return e.Op + ": " + e.Err.Error()
	default:
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind without a cause.
func NewKind(op string, kind error) error { return &Error{Op: op, Kind: kind} }

// WrapKind returns err classified as kind.
func WrapKind(op string, kind, err error) error { return &Error{Op: op, Kind: kind, Err: err} }

// Wrap attaches op to err; the kind is derived from err when written.
func Wrap(op string, err error) error { return &Error{Op: op, Err: err} }

type statusRule struct {
	target error
	status int
	code   string
}

// statusRules maps error kinds to responses; the first match wins. Feed
// failures come first so an invalid upstream payload is not the caller's fault.
var statusRules = []statusRule{ //nolint:gochecknoglobals // static lookup table
	{collect.ErrNoSource, http.StatusServiceUnavailable, "no_source"},
	{collect.ErrCollect, http.StatusBadGateway, "upstream_error"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{ErrBackpressure, http.StatusTooManyRequests, "backpressure"},
	{ErrTooLarge, http.StatusRequestEntityTooLarge, "limit_exceeded"},
	{ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrInvalid, http.StatusBadRequest, "bad_request"},
	{pattern.ErrInsufficientData, http.StatusBadRequest, "bad_request"},
	{pattern.ErrSequenceShape, http.StatusBadRequest, "bad_request"},
	{prediction.ErrNoData, http.StatusBadRequest, "bad_request"},
	{repository.ErrNotFound, http.StatusNotFound, "not_found"},
	{repository.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{prediction.ErrNotTrained, http.StatusConflict, "not_trained"},
	{pattern.ErrNotTrained, http.StatusConflict, "not_trained"},
	{schedule.ErrLimitExceeded, http.StatusRequestEntityTooLarge, "limit_exceeded"},
}

// classify returns the HTTP status and error code for err.
func classify(err error) (int, string) {
	for _, r := range statusRules {
		if errors.Is(err, r.target) {
			return r.status, r.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}
