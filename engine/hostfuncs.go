package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// DialogFunc answers one engine dialog request synchronously. It must never
// block: the canned answer is returned inline and the dialog content is
// buffered elsewhere for the client. A nil or empty answer means no payload.
type DialogFunc func(ctx context.Context, dialogName string, input []byte) []byte

// instantiateHostModule builds the env host module the engine imports.
// It must be instantiated into the runtime before the engine module is,
// because the engine resolves these names eagerly at instantiation.
func instantiateHostModule(ctx context.Context, r wazero.Runtime, dialog DialogFunc) (api.Module, error) {
	builder := r.NewHostModuleBuilder(HostModule)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(dialogShowFunc(dialog),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI64}).
		Export(ImportDialog)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostLog),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32},
			nil).
		Export(ImportLog)

	builder = builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostYield),
			nil,
			[]api.ValueType{api.ValueTypeI32}).
		Export(ImportYield)

	return builder.Instantiate(ctx)
}

// dialogShowFunc adapts a DialogFunc to the wire signature
// dialog_show(name_ptr, name_len, input_ptr, input_len) -> packed ptr/len.
// The answer is copied into guest memory allocated with the guest's own
// malloc so the guest can free it.
func dialogShowFunc(dialog DialogFunc) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		namePtr, nameLen := uint32(stack[0]), uint32(stack[1])
		inputPtr, inputLen := uint32(stack[2]), uint32(stack[3])
		stack[0] = 0

		name, ok := readGuestBytes(mod.Memory(), namePtr, nameLen)
		if !ok {
			Logger().Warn("dialog_show: dialog name out of bounds",
				zap.Uint32("ptr", namePtr), zap.Uint32("len", nameLen))
			return
		}
		input, ok := readGuestBytes(mod.Memory(), inputPtr, inputLen)
		if !ok {
			Logger().Warn("dialog_show: input data out of bounds",
				zap.Uint32("ptr", inputPtr), zap.Uint32("len", inputLen))
			return
		}

		var answer []byte
		if dialog != nil {
			answer = dialog(ctx, string(name), input)
		}
		if len(answer) == 0 {
			return
		}

		ptr, err := guestAlloc(ctx, mod, answer)
		if err != nil {
			Logger().Warn("dialog_show: failed to allocate answer in guest memory",
				zap.Error(err))
			return
		}
		stack[0] = PackResult(ptr, uint32(len(answer)))
	}
}

// hostLog implements host_log(level, ptr, len): guest diagnostics routed
// into the engine logger.
func hostLog(_ context.Context, mod api.Module, stack []uint64) {
	level := uint32(stack[0])
	ptr, length := uint32(stack[1]), uint32(stack[2])

	msg, ok := readGuestBytes(mod.Memory(), ptr, length)
	if !ok {
		return
	}

	log := Logger()
	switch level {
	case 0:
		log.Debug(string(msg), zap.String("source", "engine"))
	case 1:
		log.Info(string(msg), zap.String("source", "engine"))
	case 2:
		log.Warn(string(msg), zap.String("source", "engine"))
	default:
		log.Error(string(msg), zap.String("source", "engine"))
	}
}

// yieldOp is the pending operation behind host_yield: a pure timeslice with
// no host work attached.
type yieldOp struct{}

func (yieldOp) Execute(ctx context.Context) (uint64, error) {
	return 0, ctx.Err()
}

// hostYield implements host_yield() -> i32. On asyncify builds it suspends
// the call so the host scheduler regains control; plain builds proceed
// immediately.
func hostYield(ctx context.Context, _ api.Module, stack []uint64) {
	stack[0] = 0

	async := GetAsyncify(ctx)
	if async == nil {
		return
	}

	if async.IsRewinding() {
		result, err := Resume(ctx)
		if err != nil {
			Logger().Warn("host_yield: resume failed", zap.Error(err))
			return
		}
		stack[0] = result
		return
	}

	if err := Suspend(ctx, yieldOp{}); err != nil {
		Logger().Warn("host_yield: suspend failed", zap.Error(err))
	}
}

// readGuestBytes copies a guest memory range. The copy matters: the view
// returned by Memory.Read is invalidated when guest memory grows.
func readGuestBytes(mem api.Memory, ptr, length uint32) ([]byte, bool) {
	if length == 0 {
		return nil, true
	}
	if mem == nil {
		return nil, false
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, view)
	return out, true
}

// guestAlloc copies data into guest memory allocated via the guest's malloc
// and returns the pointer.
func guestAlloc(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	malloc := mod.ExportedFunction(ExportMalloc)
	if malloc == nil {
		return 0, errNoMalloc
	}
	results, err := malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, errGuestOOM
	}
	if !mod.Memory().Write(ptr, data) {
		return 0, errGuestWrite
	}
	return ptr, nil
}
