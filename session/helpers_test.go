package session_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/engine"
	"github.com/gregvolny/CSEntryWeb-sub001/session"
	"github.com/gregvolny/CSEntryWeb-sub001/vfs"
)

// script defines one operation's behavior on a scripted engine instance.
type script func(ctx context.Context, payload []byte) (engine.Outcome, error)

// respond scripts an immediate JSON result.
func respond(jsonText string) script {
	return func(ctx context.Context, payload []byte) (engine.Outcome, error) {
		return engine.Immediate([]byte(jsonText)), nil
	}
}

type call struct {
	op      string
	payload []byte
}

// scriptedInstance is a fake engine instance driven by per-op scripts.
// Unscripted operations answer JSON true.
type scriptedInstance struct {
	mu      sync.Mutex
	scripts map[string]script
	calls   []call
	closed  int

	closeErr error
}

func (f *scriptedInstance) Invoke(ctx context.Context, op string, payload []byte) (engine.Outcome, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, payload: append([]byte(nil), payload...)})
	s := f.scripts[op]
	f.mu.Unlock()

	if s == nil {
		return engine.Immediate([]byte("true")), nil
	}
	return s(ctx, payload)
}

func (f *scriptedInstance) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *scriptedInstance) script(op string, s script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scripts == nil {
		f.scripts = make(map[string]script)
	}
	f.scripts[op] = s
}

func (f *scriptedInstance) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *scriptedInstance) lastCall() call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return call{}
	}
	return f.calls[len(f.calls)-1]
}

func (f *scriptedInstance) allCalls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *scriptedInstance) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.op
	}
	return out
}

// fakeFactory hands out scripted instances and records them by session id.
type fakeFactory struct {
	mu          sync.Mutex
	initialized bool
	instances   map[string]*scriptedInstance
	newErr      error
}

func (f *fakeFactory) Initialized() bool {
	return f.initialized
}

func (f *fakeFactory) NewInstance(ctx context.Context, id, root string) (session.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	inst := &scriptedInstance{}
	if f.instances == nil {
		f.instances = make(map[string]*scriptedInstance)
	}
	f.instances[id] = inst
	return inst, nil
}

func (f *fakeFactory) instance(id string) *scriptedInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id]
}

// env bundles a registry/service wired to fakes over a real namespace tree.
type env struct {
	factory  *fakeFactory
	spaces   *vfs.Manager
	registry *session.Registry
	invoker  *session.Invoker
	service  *session.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()

	spaces, err := vfs.NewManager(filepath.Join(t.TempDir(), "namespaces"))
	require.NoError(t, err)

	factory := &fakeFactory{initialized: true}
	registry := session.NewRegistry(factory, spaces, zap.NewNop())
	invoker := session.NewInvoker(zap.NewNop())
	service := session.NewService(registry, invoker, spaces, zap.NewNop())

	return &env{
		factory:  factory,
		spaces:   spaces,
		registry: registry,
		invoker:  invoker,
		service:  service,
	}
}

// started creates a session and walks it to EntryActive.
func (e *env) started(t *testing.T) *session.Session {
	t.Helper()
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)

	load, err := e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.NoError(t, err)
	require.True(t, load.Success)

	start, err := e.service.StartEntry(ctx, sess.ID, "add")
	require.NoError(t, err)
	require.True(t, start.Success)

	return sess
}

const samplePFF = "[Run Information]\nVersion=CSPro 7.7\nAppType=Entry\n\n[Files]\nApplication=.\\Census.ent\nInputData=.\\Census.dat\n"
