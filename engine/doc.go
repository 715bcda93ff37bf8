// Package engine hosts the entry engine WebAssembly module.
//
// The module is compiled exactly once per process by Runtime.Initialize and
// instantiated once per session by Runtime.NewInstance. Host functions the
// engine imports (dialog requests, diagnostics, cooperative yields) are
// instantiated into the runtime before the engine module, because the module
// resolves those names eagerly when it is instantiated, not per call.
//
// Engine builds come in two calling conventions. Plain builds return from
// every exported call immediately. Asyncify-instrumented builds (wasm-opt
// --asyncify) may suspend mid-call: the export returns early with the guest
// stack unwound, the host performs the pending operation, and the call is
// re-entered to rewind and continue. Which convention an instance uses is
// fixed at construction time by probing the asyncify exports; Invoke reports
// it through the returned Outcome so callers never inspect result shapes.
package engine
