package engine

// The entry engine is an Emscripten-style reactor: a core module with a C
// ABI, guest-side malloc/free, and a single uniform dispatch export. Strings
// and JSON payloads cross the boundary as (ptr, len) pairs in linear memory;
// results come back as a single i64 packing both halves.

// Guest exports.
const (
	ExportMalloc     = "malloc"
	ExportFree       = "free"
	ExportInitialize = "_initialize" // optional WASI reactor initializer
	ExportEngineInit = "engine_init"
	ExportInvoke     = "engine_invoke"

	// Present only in asyncify-instrumented builds.
	ExportAsyncifyGetState    = "asyncify_get_state"
	ExportAsyncifyStartUnwind = "asyncify_start_unwind"
	ExportAsyncifyStopUnwind  = "asyncify_stop_unwind"
	ExportAsyncifyStartRewind = "asyncify_start_rewind"
	ExportAsyncifyStopRewind  = "asyncify_stop_rewind"
)

// Host imports, all under the HostModule namespace.
const (
	HostModule     = "env"
	ImportDialog   = "dialog_show"
	ImportLog      = "host_log"
	ImportYield    = "host_yield"
	WASIModuleName = "wasi_snapshot_preview1"
)

// PackResult packs a guest pointer and length into the i64 result of
// engine_invoke and dialog_show. Zero means no payload.
func PackResult(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackResult splits a packed i64 result into pointer and length.
func UnpackResult(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}
