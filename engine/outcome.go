package engine

import "context"

// Outcome is the result of one engine invocation. An immediate outcome
// already carries the result payload; a suspended outcome carries the
// remaining computation, which Await drives to completion. The tag is fixed
// by the instance's calling convention, not by inspecting returned values.
type Outcome struct {
	value  []byte
	resume func(ctx context.Context) ([]byte, error)
}

// Immediate constructs a completed outcome carrying the result payload.
func Immediate(value []byte) Outcome {
	return Outcome{value: value}
}

// Suspended constructs an outcome whose result is produced by driving the
// suspended computation.
func Suspended(resume func(ctx context.Context) ([]byte, error)) Outcome {
	return Outcome{resume: resume}
}

// IsSuspended reports whether the outcome still has work to drive.
func (o Outcome) IsSuspended() bool {
	return o.resume != nil
}

// Await returns the result payload, driving a suspended computation to
// completion first. Awaiting an immediate outcome returns its value directly.
func (o Outcome) Await(ctx context.Context) ([]byte, error) {
	if o.resume != nil {
		return o.resume(ctx)
	}
	return o.value, nil
}
