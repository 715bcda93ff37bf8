package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/errors"
)

var (
	errNoMalloc   = fmt.Errorf("guest does not export %s", ExportMalloc)
	errGuestOOM   = fmt.Errorf("guest allocation returned null")
	errGuestWrite = fmt.Errorf("write to guest memory out of bounds")
)

// Instance is one running copy of the entry engine. It is exclusively owned
// by one session; calls against it must be serialized by the owner. Close is
// idempotent.
type Instance struct {
	mod    api.Module
	malloc api.Function
	free   api.Function
	invoke api.Function

	// Non-nil only on asyncify builds; fixes the calling convention.
	asyncify  *Asyncify
	scheduler *Scheduler

	closed bool
}

// newInstance validates the guest ABI, runs the per-instance initializers
// and probes the calling convention.
func newInstance(ctx context.Context, mod api.Module, asyncStackSize uint32) (*Instance, error) {
	inst := &Instance{
		mod:    mod,
		malloc: mod.ExportedFunction(ExportMalloc),
		free:   mod.ExportedFunction(ExportFree),
		invoke: mod.ExportedFunction(ExportInvoke),
	}

	if inst.malloc == nil || inst.free == nil {
		return nil, errors.Load("engine module missing malloc/free exports", nil)
	}
	if inst.invoke == nil {
		return nil, errors.Load(fmt.Sprintf("engine module missing %s export", ExportInvoke), nil)
	}

	if initFn := mod.ExportedFunction(ExportInitialize); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			return nil, errors.Load("run _initialize", err)
		}
	}

	if engineInit := mod.ExportedFunction(ExportEngineInit); engineInit != nil {
		results, err := engineInit.Call(ctx)
		if err != nil {
			return nil, errors.Load("run engine_init", err)
		}
		if len(results) > 0 && results[0] != 0 {
			return nil, errors.Load(fmt.Sprintf("engine_init returned %d", int32(results[0])), nil)
		}
	}

	// The calling convention is a property of the build, probed once here.
	if mod.ExportedFunction(ExportAsyncifyGetState) != nil {
		a := NewAsyncify()
		if asyncStackSize > 0 {
			a.SetStackSize(asyncStackSize)
		}
		if err := a.Init(mod); err != nil {
			return nil, errors.Load("initialize asyncify", err)
		}
		inst.asyncify = a
		inst.scheduler = NewScheduler(a)
	}

	return inst, nil
}

// Suspending reports the instance's calling convention.
func (i *Instance) Suspending() bool {
	return i.asyncify != nil
}

// Invoke dispatches one engine operation with a JSON argument payload.
// On plain builds the returned outcome is immediate; on asyncify builds it
// is suspended and Await drives the call to completion. Either way the
// result payload is the UTF-8 text the engine produced, or nil for none.
func (i *Instance) Invoke(ctx context.Context, op string, payload []byte) (Outcome, error) {
	if i.closed {
		return Outcome{}, errors.NotInitialized("engine instance")
	}

	opPtr, err := i.writeGuest(ctx, []byte(op))
	if err != nil {
		return Outcome{}, err
	}
	payloadPtr := uint32(0)
	if len(payload) > 0 {
		payloadPtr, err = i.writeGuest(ctx, payload)
		if err != nil {
			i.freeGuest(ctx, opPtr)
			return Outcome{}, err
		}
	}

	args := []uint64{
		uint64(opPtr), uint64(len(op)),
		uint64(payloadPtr), uint64(len(payload)),
	}
	release := func(ctx context.Context) {
		i.freeGuest(ctx, opPtr)
		if payloadPtr != 0 {
			i.freeGuest(ctx, payloadPtr)
		}
	}

	if i.scheduler == nil {
		results, err := i.invoke.Call(ctx, args...)
		release(ctx)
		if err != nil {
			return Outcome{}, err
		}
		value, err := i.readResult(ctx, results)
		if err != nil {
			return Outcome{}, err
		}
		return Immediate(value), nil
	}

	ctx = WithAsyncify(ctx, i.asyncify)
	ctx = WithScheduler(ctx, i.scheduler)
	if err := i.scheduler.Execute(ctx, i.invoke, args...); err != nil {
		release(ctx)
		return Outcome{}, err
	}

	return Suspended(func(ctx context.Context) ([]byte, error) {
		ctx = WithAsyncify(ctx, i.asyncify)
		ctx = WithScheduler(ctx, i.scheduler)

		var yr *YieldResult
		for {
			sr, err := i.scheduler.Step(ctx, yr)
			if err != nil {
				i.scheduler.Reset()
				release(ctx)
				return nil, err
			}
			switch sr.Status {
			case StepDone:
				release(ctx)
				return i.readResult(ctx, sr.Results)
			case StepContinue:
				val, opErr := sr.PendingOp.Execute(ctx)
				yr = &YieldResult{Value: val, Error: opErr}
			}
		}
	}), nil
}

// readResult copies the packed ptr/len result out of guest memory and frees
// the guest allocation.
func (i *Instance) readResult(ctx context.Context, results []uint64) ([]byte, error) {
	if len(results) == 0 || results[0] == 0 {
		return nil, nil
	}
	ptr, length := UnpackResult(results[0])
	if length == 0 {
		i.freeGuest(ctx, ptr)
		return nil, nil
	}
	data, ok := readGuestBytes(i.mod.Memory(), ptr, length)
	i.freeGuest(ctx, ptr)
	if !ok {
		return nil, errors.Load("engine result out of bounds", nil)
	}
	return data, nil
}

// writeGuest copies data into a fresh guest allocation.
func (i *Instance) writeGuest(ctx context.Context, data []byte) (uint32, error) {
	results, err := i.malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.Wrap(errors.StageEntry, errors.KindEngineTrap, err, "guest malloc")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, errors.Wrap(errors.StageEntry, errors.KindEngineTrap, errGuestOOM, "guest malloc")
	}
	if !i.mod.Memory().Write(ptr, data) {
		i.freeGuest(ctx, ptr)
		return 0, errors.Wrap(errors.StageEntry, errors.KindEngineTrap, errGuestWrite, "guest write")
	}
	return ptr, nil
}

// freeGuest releases a guest allocation, best-effort.
func (i *Instance) freeGuest(ctx context.Context, ptr uint32) {
	if ptr == 0 || i.free == nil {
		return
	}
	if _, err := i.free.Call(ctx, uint64(ptr)); err != nil {
		Logger().Debug("guest free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// Close releases the instance. Idempotent; the first close disposes the
// guest module.
func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	if i.mod != nil {
		return i.mod.Close(ctx)
	}
	return nil
}
