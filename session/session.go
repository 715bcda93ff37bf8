// Package session owns the lifecycle of entry sessions: one engine instance
// plus one namespace root per session id, the state machine gating entry
// operations, and the invoker that normalizes engine call results.
//
// Calls against the same session must be serialized by the caller; the
// registry itself is safe for concurrent use across different ids.
package session

import (
	"context"
	"time"

	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/engine"
)

// Instance is the engine handle a session exclusively owns.
type Instance interface {
	Invoke(ctx context.Context, op string, payload []byte) (engine.Outcome, error)
	Close(ctx context.Context) error
}

// Factory creates engine instances bound to a namespace root.
type Factory interface {
	// Initialized reports whether the engine module has been loaded.
	Initialized() bool

	// NewInstance builds one engine copy whose filesystem view is rooted
	// at root.
	NewInstance(ctx context.Context, id, root string) (Instance, error)
}

// Session is one tenant: an engine instance, its namespace root and the
// lifecycle flags the state machine checks before every operation.
type Session struct {
	ID                string
	Instance          Instance
	Root              string
	AppName           string
	ApplicationLoaded bool
	EntryStarted      bool
	CreatedAt         time.Time

	// Dialogs buffers the dialog records intercepted during this session's
	// engine calls. Owned by the session, never shared.
	Dialogs *dialog.Buffer
}
