package session

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/gregvolny/CSEntryWeb-sub001/engine"
)

// EngineFactory adapts the engine runtime to the Factory interface. Guest
// stdout and stderr are bridged into the engine logger per session.
type EngineFactory struct {
	Runtime *engine.Runtime
}

func (f *EngineFactory) Initialized() bool {
	return f.Runtime.Initialized()
}

func (f *EngineFactory) NewInstance(ctx context.Context, id, root string) (Instance, error) {
	guestLog := engine.Logger().Named("guest").With(zap.String("session", id))
	return f.Runtime.NewInstance(ctx, engine.InstanceOptions{
		Name:   id,
		Dir:    root,
		Stdout: &zapio.Writer{Log: guestLog, Level: zapcore.DebugLevel},
		Stderr: &zapio.Writer{Log: guestLog, Level: zapcore.WarnLevel},
	})
}
