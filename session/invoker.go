package session

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/errors"
)

// Result is the normalized outcome of one engine call: the parsed result
// value plus every dialog record intercepted inside the call's window.
type Result struct {
	// Value is the engine's result parsed as JSON, the raw text when it is
	// not JSON, or nil when the call produced nothing.
	Value any

	// Dialogs is the drained per-session buffer.
	Dialogs []dialog.Record
}

// Invoker wraps every call into an engine instance. Each call gets a clean
// dialog attribution window; immediate and suspended call shapes are awaited
// uniformly; the dialog buffer is always drained, on failure too.
type Invoker struct {
	log *zap.Logger
}

func NewInvoker(log *zap.Logger) *Invoker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Invoker{log: log}
}

// Invoke runs one engine operation against a session. Structured args are
// JSON-encoded into the single text payload the engine expects; nil args
// send no payload. On any engine failure the returned Result still carries
// the dialogs accumulated before the failure.
func (iv *Invoker) Invoke(ctx context.Context, sess *Session, op string, args any) (Result, error) {
	sess.Dialogs.Reset()

	var payload []byte
	if args != nil {
		encoded, err := json.Marshal(args)
		if err != nil {
			return Result{}, errors.New(errors.StageEntry, errors.KindInvalidInput).
				Session(sess.ID).Op(op).Cause(err).
				Detail("encode operation arguments").Build()
		}
		payload = encoded
	}

	ctx = dialog.WithBuffer(ctx, sess.Dialogs)

	outcome, err := sess.Instance.Invoke(ctx, op, payload)
	if err != nil {
		return Result{Dialogs: sess.Dialogs.Drain()}, errors.EngineTrap(sess.ID, op, err)
	}

	raw, err := outcome.Await(ctx)
	if err != nil {
		return Result{Dialogs: sess.Dialogs.Drain()}, errors.EngineTrap(sess.ID, op, err)
	}

	res := Result{Dialogs: sess.Dialogs.Drain()}
	if len(raw) > 0 {
		var value any
		if jsonErr := json.Unmarshal(raw, &value); jsonErr == nil {
			res.Value = value
		} else {
			iv.log.Debug("engine result is not JSON, keeping raw text",
				zap.String("session", sess.ID),
				zap.String("op", op))
			res.Value = string(raw)
		}
	}
	return res, nil
}

// BoolValue interprets an engine result as the boolean convention: JSON
// true/false. Anything else is false.
func BoolValue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
