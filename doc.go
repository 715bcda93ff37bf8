// Package csentryweb hosts the CSPro entry engine as a WebAssembly module
// and brokers interactive data entry sessions behind a stateless JSON API.
//
// The entry engine is a synchronous, single-tenant black box: it navigates
// fields, validates values and evaluates application logic for exactly one
// questionnaire session at a time, and it expects to block on operator
// dialogs. This library compiles that engine once per process, instantiates
// it once per session, and turns its blocking dialog requests into buffered
// records so that a stateless HTTP caller never waits on a modal prompt.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	csentryweb/          Root package with the release version
//	├── engine/          wazero integration: compile-once runtime, per-session instances
//	├── session/         Session registry, lifecycle state machine and entry operations
//	├── dialog/          Dialog interception, canned answers and per-call record buffers
//	├── vfs/             Per-session filesystem namespaces for application files
//	├── pff/             Entry application descriptor (PFF) parsing
//	├── errors/          Structured errors with stage and kind classification
//	├── config/          YAML file and environment configuration
//	├── server/          HTTP transport, action tokens and Prometheus metrics
//	└── cmd/csentryweb/  serve, enter, token and version commands
//
// # Quick Start
//
// Load the engine and serve entry sessions:
//
//	responder := dialog.NewResponder()
//	rt := engine.NewRuntime(engine.Config{
//	    ModulePath: "csentry.wasm",
//	    Dialog:     responder.Answer,
//	})
//	if err := rt.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	spaces, err := vfs.NewManager(sessionsDir)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	registry := session.NewRegistry(&session.EngineFactory{Runtime: rt}, spaces, logger)
//	svc := session.NewService(registry, session.NewInvoker(logger), spaces, logger)
//
//	http.ListenAndServe(":8080", server.NewServer(svc).Router())
//
// # Sessions
//
// Each session owns one engine instance and one filesystem namespace. The
// lifecycle is Created, Loaded, EntryActive, Stopped; stop is re-enterable,
// so a stopped session can start entry again. Navigation operations require
// EntryActive and are refused locally, without touching the engine, when the
// session is in any other state.
//
// # Dialogs
//
// When the engine raises a dialog mid-operation, the dialog package answers
// it immediately with a canned acknowledgement and appends a record to the
// buffer carried by the calling context. The records ride back to the caller
// on the operation result, so an errant value still advances the API call
// instead of deadlocking it.
//
// # Concurrency
//
// Runtime and the session registry are safe for concurrent use. A single
// engine instance is not: the caller must serialize operations against the
// same session id, while distinct sessions proceed in parallel because their
// instances and namespaces are disjoint.
package csentryweb
