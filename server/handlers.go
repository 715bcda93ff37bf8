package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/gregvolny/CSEntryWeb-sub001/errors"
	"github.com/gregvolny/CSEntryWeb-sub001/session"
)

type healthResponse struct {
	WasmInitialized bool `json:"wasmInitialized"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type createSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

type sessionInfo struct {
	SessionID         string    `json:"sessionId"`
	AppName           string    `json:"appName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	ApplicationLoaded bool      `json:"applicationLoaded"`
	EntryStarted      bool      `json:"entryStarted"`
}

type sessionListResponse struct {
	Success  bool          `json:"success"`
	Sessions []sessionInfo `json:"sessions"`
}

type loadRequest struct {
	PFFContent string                     `json:"pffContent"`
	Files      map[string]json.RawMessage `json:"files"`
	AppName    string                     `json:"appName"`
}

type startRequest struct {
	Mode string `json:"mode"`
}

type advanceRequest struct {
	Value any `json:"value"`
}

type stopRequest struct {
	Save bool `json:"save"`
}

type actionRequest struct {
	ActionName  string `json:"actionName"`
	Args        any    `json:"args"`
	AccessToken string `json:"accessToken"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{WasmInitialized: s.service.Initialized()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.Create(r.Context())
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, createSessionResponse{Success: true, SessionID: sess.ID})
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	s.service.Destroy(r.Context(), chi.URLParam(r, "id"))
	s.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	live := s.service.Sessions()
	infos := make([]sessionInfo, len(live))
	for i, sess := range live {
		infos[i] = sessionInfo{
			SessionID:         sess.ID,
			AppName:           sess.AppName,
			CreatedAt:         sess.CreatedAt,
			ApplicationLoaded: sess.ApplicationLoaded,
			EntryStarted:      sess.EntryStarted,
		}
	}
	s.writeJSON(w, http.StatusOK, sessionListResponse{Success: true, Sessions: infos})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}
	if req.PFFContent == "" {
		s.writeError(w, apperrors.InvalidInput(apperrors.StageTransport, "pffContent is required"), nil)
		return
	}
	files, err := decodeFiles(req.Files)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}

	res, err := s.service.LoadApplication(r.Context(), chi.URLParam(r, "id"), req.PFFContent, files, req.AppName)
	s.respondOp(w, "loadApplication", res, err)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}

	res, err := s.service.StartEntry(r.Context(), chi.URLParam(r, "id"), req.Mode)
	s.respondOp(w, "startEntry", res, err)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.service.Session(id)
	if !ok {
		s.writeError(w, apperrors.SessionNotFound(id), nil)
		return
	}

	res, err := s.service.GetCurrentPage(r.Context(), id)
	s.observeOp("getCurrentPage", res, err)
	if err != nil {
		s.writeError(w, err, res.Dialogs)
		return
	}

	s.writeJSON(w, http.StatusOK, pageResponse{
		Success:           true,
		Page:              res.Page,
		ApplicationLoaded: sess.ApplicationLoaded,
		EntryStarted:      sess.EntryStarted,
		Dialogs:           res.Dialogs,
	})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}

	res, err := s.service.AdvanceField(r.Context(), chi.URLParam(r, "id"), req.Value)
	s.respondOp(w, "advanceField", res, err)
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.PreviousField(r.Context(), chi.URLParam(r, "id"))
	s.respondOp(w, "previousField", res, err)
}

func (s *Server) handleEndGroup(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.EndGroup(r.Context(), chi.URLParam(r, "id"))
	s.respondOp(w, "endGroup", res, err)
}

func (s *Server) handleEndRoster(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.EndRoster(r.Context(), chi.URLParam(r, "id"))
	s.respondOp(w, "endRoster", res, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}

	res, err := s.service.StopEntry(r.Context(), chi.URLParam(r, "id"), req.Save)
	s.respondOp(w, "stopEntry", res, err)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err, nil)
		return
	}

	if s.tokens != nil {
		if _, err := s.tokens.Verify(req.AccessToken); err != nil {
			s.log.Warn("action token rejected", zap.Error(err))
			s.writeError(w, apperrors.Unauthorized("invalid access token"), nil)
			return
		}
	}

	res, err := s.service.InvokeAction(r.Context(), chi.URLParam(r, "id"), req.ActionName, req.Args, req.AccessToken)
	s.respondOp(w, "invokeAction", res, err)
}

// decodeBody reads a JSON body into v. An empty body leaves v zero; malformed
// JSON is an invalid_input error.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperrors.New(apperrors.StageTransport, apperrors.KindInvalidInput).
		Cause(err).Detail("malformed request body").Build()
}

// decodeFiles converts the load request's files union into file specs:
// a JSON string is text content, {"type":"binary","data":base64} is binary.
func decodeFiles(raw map[string]json.RawMessage) ([]session.FileSpec, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	specs := make([]session.FileSpec, 0, len(raw))
	for path, val := range raw {
		var text string
		if err := json.Unmarshal(val, &text); err == nil {
			specs = append(specs, session.FileSpec{Path: path, Content: text})
			continue
		}

		var bin struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal(val, &bin); err != nil || bin.Type != "binary" {
			return nil, apperrors.InvalidInput(apperrors.StageTransport,
				"file "+path+` must be a string or {"type":"binary","data":<base64>}`)
		}
		specs = append(specs, session.FileSpec{Path: path, Content: bin.Data, Binary: true})
	}
	return specs, nil
}
