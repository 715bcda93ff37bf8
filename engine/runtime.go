package engine

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/errors"
)

// Config holds configuration for the engine runtime.
type Config struct {
	// ModulePath is the entry engine wasm binary on disk.
	ModulePath string

	// Dialog answers the engine's dialog requests. Wired before the module
	// is instantiated so import resolution finds it.
	Dialog DialogFunc

	// MemoryLimitPages caps linear memory per instance in 64KB pages.
	// 0 means the wazero default (4GB).
	MemoryLimitPages uint32

	// AsyncifyStackSize sizes the unwind stack for asyncify builds.
	// 0 means AsyncifyDefaultStackSize.
	AsyncifyStackSize uint32
}

// Runtime loads the entry engine module exactly once per process and hands
// out per-session instances. The zero of everything before Initialize;
// NewInstance fails until Initialize succeeds, and a failed load is sticky.
type Runtime struct {
	cfg Config

	initOnce sync.Once
	initErr  error
	ready    atomic.Bool

	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// NewRuntime creates an uninitialized runtime.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Initialize loads and compiles the engine module. Idempotent: the first
// call performs the load; later calls return the recorded outcome without
// reloading. There is no retry on failure; the operator restarts the
// process.
func (r *Runtime) Initialize(ctx context.Context) error {
	r.initOnce.Do(func() {
		r.initErr = r.load(ctx)
		if r.initErr == nil {
			r.ready.Store(true)
		}
	})
	return r.initErr
}

func (r *Runtime) load(ctx context.Context) error {
	wasmBytes, err := os.ReadFile(r.cfg.ModulePath)
	if err != nil {
		return errors.Load("read engine module", err)
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if r.cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(r.cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	// Host functions first: the engine module resolves env and WASI imports
	// eagerly when instantiated.
	if _, err := instantiateHostModule(ctx, rt, r.cfg.Dialog); err != nil {
		rt.Close(ctx)
		return errors.Load("instantiate host module", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return errors.Load("instantiate WASI", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		rt.Close(ctx)
		return errors.Load("compile engine module", err)
	}

	r.runtime = rt
	r.compiled = compiled

	Logger().Info("engine module loaded",
		zap.String("path", r.cfg.ModulePath),
		zap.Int("size", len(wasmBytes)))
	return nil
}

// Initialized reports whether the engine module has been loaded.
func (r *Runtime) Initialized() bool {
	return r.ready.Load()
}

// InstanceOptions configures one engine instance.
type InstanceOptions struct {
	// Name distinguishes the instance in the runtime, usually the session id.
	Name string

	// Dir is the host directory mounted as the instance's entire filesystem
	// view, rooted at /.
	Dir string

	// Stdout and Stderr capture the guest's standard streams. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// NewInstance instantiates one engine copy with its own linear memory and
// filesystem view. Instances are not safe for concurrent use; each session
// owns exactly one and serializes its calls.
func (r *Runtime) NewInstance(ctx context.Context, opts InstanceOptions) (*Instance, error) {
	if !r.ready.Load() {
		return nil, errors.NotInitialized("engine runtime")
	}

	modCfg := wazero.NewModuleConfig().
		WithName(opts.Name).
		WithStartFunctions() // reactor: no _start, _initialize called manually
	if opts.Dir != "" {
		modCfg = modCfg.WithFSConfig(wazero.NewFSConfig().WithDirMount(opts.Dir, "/"))
	}
	if opts.Stdout != nil {
		modCfg = modCfg.WithStdout(opts.Stdout)
	}
	if opts.Stderr != nil {
		modCfg = modCfg.WithStderr(opts.Stderr)
	}

	mod, err := r.runtime.InstantiateModule(ctx, r.compiled, modCfg)
	if err != nil {
		return nil, errors.Load("instantiate engine module", err)
	}

	inst, err := newInstance(ctx, mod, r.cfg.AsyncifyStackSize)
	if err != nil {
		mod.Close(ctx)
		return nil, err
	}

	Logger().Debug("engine instance created",
		zap.String("name", opts.Name),
		zap.Bool("suspending", inst.Suspending()))
	return inst, nil
}

// Close tears down the wazero runtime and every live instance.
func (r *Runtime) Close(ctx context.Context) error {
	if r.runtime == nil {
		return nil
	}
	return r.runtime.Close(ctx)
}
