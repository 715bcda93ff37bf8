package dialog

import "context"

type ctxKeyBuffer struct{}

// WithBuffer routes dialog records produced during an engine call to the
// given session's buffer. Installed by the operation invoker immediately
// before each call.
func WithBuffer(ctx context.Context, b *Buffer) context.Context {
	return context.WithValue(ctx, ctxKeyBuffer{}, b)
}

// BufferFrom returns the buffer installed in ctx, or nil.
func BufferFrom(ctx context.Context) *Buffer {
	if v := ctx.Value(ctxKeyBuffer{}); v != nil {
		return v.(*Buffer)
	}
	return nil
}
