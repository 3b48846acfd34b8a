package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/kaspa-aio/controller/pkg/errdefs"
)

// context5s bounds node-facing probes triggered from a request.
func context5s(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}

// errorBody is the envelope of every failed response.
type errorBody struct {
	Success bool           `json:"success"`
	Kind    errdefs.Kind   `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps error kinds to HTTP status codes. Unlisted kinds, including
// Internal, report 500.
var statusFor = map[errdefs.Kind]int{
	errdefs.KindValidation:           http.StatusBadRequest,
	errdefs.KindPrerequisiteNotMet:   http.StatusBadRequest,
	errdefs.KindConflictingSelection: http.StatusBadRequest,
	errdefs.KindCircularDependency:   http.StatusBadRequest,
	errdefs.KindCatalogInvalid:       http.StatusBadRequest,
	errdefs.KindNotFound:             http.StatusNotFound,
	errdefs.KindTokenNotFound:        http.StatusNotFound,
	errdefs.KindTokenExpired:         http.StatusGone,
	errdefs.KindTokenConsumed:        http.StatusGone,
	errdefs.KindDependentsRunning:    http.StatusConflict,
	errdefs.KindPrerequisiteNotReady: http.StatusConflict,
	errdefs.KindPartialStart:         http.StatusConflict,
	errdefs.KindRuntimeUnavailable:   http.StatusServiceUnavailable,
	errdefs.KindRPCError:             http.StatusBadGateway,
	errdefs.KindRPCTimeout:           http.StatusGatewayTimeout,
	errdefs.KindProbeTimeout:         http.StatusGatewayTimeout,
	errdefs.KindStartupDeadline:      http.StatusGatewayTimeout,
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	kind := errdefs.KindOf(err)
	status, ok := statusFor[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorBody{
		Kind:    kind,
		Message: err.Error(),
		Details: errdefs.DetailsOf(err),
	})
}

// decode reads a JSON request body, rejecting unknown fields.
func decode(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return errdefs.Wrap(err, errdefs.KindValidation, "invalid request body")
	}
	return nil
}
