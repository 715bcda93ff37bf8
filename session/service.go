package session

import (
	"context"
	"os"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/errors"
	"github.com/gregvolny/CSEntryWeb-sub001/pff"
	"github.com/gregvolny/CSEntryWeb-sub001/vfs"
)

// Engine operation names carried over the invoke boundary.
const (
	opLoadApplication = "loadApplication"
	opStartEntry      = "startEntry"
	opGetCurrentPage  = "getCurrentPage"
	opAdvanceField    = "advanceField"
	opPreviousField   = "previousField"
	opEndGroup        = "endGroup"
	opEndRoster       = "endRoster"
	opStopEntry       = "stopEntry"
	opInvokeAction    = "invokeAction"
)

// FailedLoadMessage is the stable error string reported when the engine
// declines to load an application.
const FailedLoadMessage = "Failed to load application"

// descriptorFile is where the application descriptor lands inside every
// session namespace, which the engine sees as /application.pff.
const descriptorFile = "application.pff"

// FileSpec is one namespace file to deploy before loading an application.
type FileSpec struct {
	Path    string
	Content string
	Binary  bool
}

// OpResult is the uniform outcome of one entry operation. Engine-side
// boolean failures land here as Success=false with an Error message; only
// transport and engine-crash conditions become Go errors.
type OpResult struct {
	Success bool
	Error   string
	Value   any
	Page    any
	Saved   *bool
	Dialogs []dialog.Record
}

// Service implements the entry operations against registered sessions. The
// session state machine (Created, Loaded, EntryActive, Stopped) is enforced
// locally before any engine call: a precondition violation never touches
// the engine.
type Service struct {
	registry *Registry
	invoker  *Invoker
	spaces   *vfs.Manager
	log      *zap.Logger
}

func NewService(registry *Registry, invoker *Invoker, spaces *vfs.Manager, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		registry: registry,
		invoker:  invoker,
		spaces:   spaces,
		log:      log,
	}
}

// Create registers a new session with a generated id.
func (s *Service) Create(ctx context.Context) (*Session, error) {
	return s.registry.Create(ctx, uuid.NewString())
}

// Destroy tears a session down, best-effort.
func (s *Service) Destroy(ctx context.Context, id string) {
	s.registry.Destroy(ctx, id)
}

// Session looks up a live session.
func (s *Service) Session(id string) (*Session, bool) {
	return s.registry.Get(id)
}

// Sessions snapshots all live sessions ordered by creation time.
func (s *Service) Sessions() []*Session {
	return s.registry.List()
}

// Count returns the number of live sessions.
func (s *Service) Count() int {
	return s.registry.Count()
}

// Initialized reports whether the engine runtime is loaded.
func (s *Service) Initialized() bool {
	return s.registry.Initialized()
}

// LoadApplication deploys the given files and the application descriptor
// into the session namespace, then asks the engine to load the application.
// An engine refusal is not an error: it reports Success=false with the
// stable failure message and leaves the session unloaded.
func (s *Service) LoadApplication(ctx context.Context, id, pffContent string, files []FileSpec, appName string) (OpResult, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return OpResult{}, errors.SessionNotFound(id)
	}
	if _, err := os.Stat(sess.Root); err != nil {
		return OpResult{}, errors.New(errors.StageNamespace, errors.KindOperationFailed).
			Session(id).Cause(err).
			Detail("session namespace is gone").Build()
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, f := range files {
		var err error
		if f.Binary {
			err = s.spaces.WriteBinary(sess.Root, f.Path, f.Content)
		} else {
			err = s.spaces.WriteText(sess.Root, f.Path, f.Content)
		}
		if err != nil {
			return OpResult{}, err
		}
	}

	if err := s.spaces.WriteText(sess.Root, descriptorFile, pffContent); err != nil {
		return OpResult{}, err
	}

	res, err := s.invoker.Invoke(ctx, sess, opLoadApplication, map[string]string{"pffPath": "/" + descriptorFile})
	if err != nil {
		return OpResult{Dialogs: res.Dialogs}, err
	}
	if !BoolValue(res.Value) {
		return OpResult{Error: FailedLoadMessage, Dialogs: res.Dialogs}, nil
	}

	name := appName
	if name == "" {
		name = pff.Parse(pffContent).AppName()
	}
	if name == "" {
		name = "application"
	}
	sess.AppName = name
	sess.ApplicationLoaded = true

	s.log.Info("application loaded",
		zap.String("session", id),
		zap.String("app", name),
		zap.Int("files", len(files)))
	return OpResult{Success: true, Dialogs: res.Dialogs}, nil
}

// StartEntry begins interactive entry. Requires a loaded application.
func (s *Service) StartEntry(ctx context.Context, id, mode string) (OpResult, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return OpResult{}, errors.SessionNotFound(id)
	}
	if !sess.ApplicationLoaded {
		return OpResult{}, errors.AppNotLoaded(id)
	}
	if mode == "" {
		mode = "add"
	}

	res, err := s.invoker.Invoke(ctx, sess, opStartEntry, map[string]string{"mode": mode})
	if err != nil {
		return OpResult{Dialogs: res.Dialogs}, err
	}
	if !BoolValue(res.Value) {
		return OpResult{Error: "Failed to start entry", Dialogs: res.Dialogs}, nil
	}

	sess.EntryStarted = true
	return OpResult{Success: true, Dialogs: res.Dialogs}, nil
}

// entrySession gates operations that require active entry. The check is
// local; a violation performs no engine call.
func (s *Service) entrySession(id, op string) (*Session, error) {
	sess, ok := s.registry.Get(id)
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	if !sess.EntryStarted {
		return nil, errors.EntryNotStarted(id, op)
	}
	return sess, nil
}

// GetCurrentPage returns the current navigable-field snapshot.
func (s *Service) GetCurrentPage(ctx context.Context, id string) (OpResult, error) {
	sess, err := s.entrySession(id, opGetCurrentPage)
	if err != nil {
		return OpResult{}, err
	}

	res, err := s.invoker.Invoke(ctx, sess, opGetCurrentPage, nil)
	if err != nil {
		return OpResult{Dialogs: res.Dialogs}, err
	}
	return OpResult{Success: true, Page: res.Value, Dialogs: res.Dialogs}, nil
}

func (s *Service) navigate(ctx context.Context, id, op string, args any) (OpResult, error) {
	sess, err := s.entrySession(id, op)
	if err != nil {
		return OpResult{}, err
	}

	res, err := s.invoker.Invoke(ctx, sess, op, args)
	if err != nil {
		return OpResult{Dialogs: res.Dialogs}, err
	}
	if b, isBool := res.Value.(bool); isBool && !b {
		return OpResult{Error: op + " failed", Dialogs: res.Dialogs}, nil
	}
	return OpResult{Success: true, Page: res.Value, Dialogs: res.Dialogs}, nil
}

// AdvanceField sets the current field's value and advances.
func (s *Service) AdvanceField(ctx context.Context, id string, value any) (OpResult, error) {
	return s.navigate(ctx, id, opAdvanceField, map[string]any{"value": value})
}

// PreviousField moves back one field.
func (s *Service) PreviousField(ctx context.Context, id string) (OpResult, error) {
	return s.navigate(ctx, id, opPreviousField, nil)
}

// EndGroup finishes the current group.
func (s *Service) EndGroup(ctx context.Context, id string) (OpResult, error) {
	return s.navigate(ctx, id, opEndGroup, nil)
}

// EndRoster finishes the current roster.
func (s *Service) EndRoster(ctx context.Context, id string) (OpResult, error) {
	return s.navigate(ctx, id, opEndRoster, nil)
}

// StopEntry ends interactive entry. The local transition always happens,
// whatever the engine reports; the engine's save outcome is returned in
// Saved. Entry may be started again afterwards.
func (s *Service) StopEntry(ctx context.Context, id string, save bool) (OpResult, error) {
	sess, err := s.entrySession(id, opStopEntry)
	if err != nil {
		return OpResult{}, err
	}

	sess.EntryStarted = false

	res, err := s.invoker.Invoke(ctx, sess, opStopEntry, map[string]bool{"save": save})
	if err != nil {
		return OpResult{Dialogs: res.Dialogs}, err
	}

	saved := savedOutcome(res.Value)
	if save && !saved {
		s.log.Warn("engine did not confirm save on stop", zap.String("session", id))
	}
	return OpResult{Success: true, Saved: &saved, Dialogs: res.Dialogs}, nil
}

// savedOutcome reads the engine's save report: {"saved": bool}, with a bare
// boolean accepted from engines predating the structured shape.
func savedOutcome(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case map[string]any:
		saved, _ := t["saved"].(bool)
		return saved
	}
	return false
}

// InvokeAction passes an action through to the engine-side dispatcher, then
// refreshes the page snapshot. The access token travels inside the payload
// for the engine's own checks.
func (s *Service) InvokeAction(ctx context.Context, id, action string, args any, accessToken string) (OpResult, error) {
	sess, err := s.entrySession(id, opInvokeAction)
	if err != nil {
		return OpResult{}, err
	}
	if action == "" {
		return OpResult{}, errors.InvalidInput(errors.StageEntry, "actionName is required")
	}

	payload := map[string]any{"action": action}
	if args != nil {
		payload["args"] = args
	}
	if accessToken != "" {
		payload["accessToken"] = accessToken
	}

	res, err := s.invoker.Invoke(ctx, sess, opInvokeAction, payload)
	if err != nil {
		return OpResult{Dialogs: res.Dialogs}, err
	}

	pageRes, pageErr := s.invoker.Invoke(ctx, sess, opGetCurrentPage, nil)
	dialogs := append(res.Dialogs, pageRes.Dialogs...)
	if pageErr != nil {
		return OpResult{Value: res.Value, Dialogs: dialogs}, pageErr
	}

	return OpResult{Success: true, Value: res.Value, Page: pageRes.Value, Dialogs: dialogs}, nil
}
