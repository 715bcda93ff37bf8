package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/errors"
	"github.com/gregvolny/CSEntryWeb-sub001/session"
)

// opResponse is the uniform body for entry operations. An engine-side
// boolean failure is a 200 with success=false and an error message.
type opResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Page    any             `json:"page,omitempty"`
	Result  any             `json:"result,omitempty"`
	Saved   *bool           `json:"saved,omitempty"`
	Dialogs []dialog.Record `json:"dialogs,omitempty"`
}

type pageResponse struct {
	Success           bool            `json:"success"`
	Page              any             `json:"page"`
	ApplicationLoaded bool            `json:"applicationLoaded"`
	EntryStarted      bool            `json:"entryStarted"`
	Dialogs           []dialog.Record `json:"dialogs,omitempty"`
}

// errorResponse carries a failed request. Dialog records accumulated before
// an engine crash ride along so the client still sees what was asked.
type errorResponse struct {
	Error   string          `json:"error"`
	Kind    string          `json:"kind,omitempty"`
	Dialogs []dialog.Record `json:"dialogs,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encode failed", zap.Error(err))
	}
}

// writeError maps a structured error onto an HTTP status and JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error, dialogs []dialog.Record) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{
		Error:   err.Error(),
		Kind:    string(errors.KindOf(err)),
		Dialogs: dialogs,
	})
}

func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindSessionNotFound, errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindNotInitialized:
		return http.StatusServiceUnavailable
	case errors.KindSessionExists, errors.KindAppNotLoaded, errors.KindEntryNotStarted:
		return http.StatusConflict
	case errors.KindInvalidInput:
		return http.StatusBadRequest
	case errors.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondOp finishes an entry operation request: errors map to their status
// with accumulated dialogs attached, results land in the uniform body.
func (s *Server) respondOp(w http.ResponseWriter, op string, res session.OpResult, err error) {
	s.observeOp(op, res, err)
	if err != nil {
		s.writeError(w, err, res.Dialogs)
		return
	}
	s.writeJSON(w, http.StatusOK, opResponse{
		Success: res.Success,
		Error:   res.Error,
		Page:    res.Page,
		Result:  res.Value,
		Saved:   res.Saved,
		Dialogs: res.Dialogs,
	})
}

func (s *Server) observeOp(op string, res session.OpResult, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err != nil:
		s.metrics.ObserveOperation(op, "error")
	case !res.Success:
		s.metrics.ObserveOperation(op, "refused")
	default:
		s.metrics.ObserveOperation(op, "ok")
	}
}
