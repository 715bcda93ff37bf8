package session_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/engine"
	"github.com/gregvolny/CSEntryWeb-sub001/errors"
	"github.com/gregvolny/CSEntryWeb-sub001/session"
)

func TestService_Create(t *testing.T) {
	e := newEnv(t)

	sess, err := e.service.Create(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, e.service.Count())

	got, ok := e.service.Session(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)
}

func TestService_CreateBeforeRuntimeLoads(t *testing.T) {
	e := newEnv(t)
	e.factory.initialized = false

	_, err := e.service.Create(context.Background())
	assert.Equal(t, errors.KindNotInitialized, errors.KindOf(err))
	assert.False(t, e.service.Initialized())
}

func TestService_LoadApplication_UnknownSession(t *testing.T) {
	e := newEnv(t)

	_, err := e.service.LoadApplication(context.Background(), "ghost", samplePFF, nil, "")
	assert.Equal(t, errors.KindSessionNotFound, errors.KindOf(err))
}

func TestService_LoadApplication_EngineRefuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)
	e.factory.instance(sess.ID).script("loadApplication", respond("false"))

	res, err := e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.NoError(t, err, "an engine refusal is a result, not an error")

	assert.False(t, res.Success)
	assert.Equal(t, session.FailedLoadMessage, res.Error)
	assert.False(t, sess.ApplicationLoaded, "flag must stay false after a refused load")
}

func TestService_LoadApplication_Success(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)

	res, err := e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, res.Error)
	assert.True(t, sess.ApplicationLoaded)
	assert.Equal(t, "Census", sess.AppName, "name derives from the descriptor")

	// The descriptor lands in the namespace where the engine will read it.
	data, err := e.spaces.ReadFile(sess.Root, "application.pff")
	require.NoError(t, err)
	assert.Equal(t, samplePFF, string(data))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(e.factory.instance(sess.ID).lastCall().payload, &payload))
	assert.Equal(t, "/application.pff", payload["pffPath"])
}

func TestService_LoadApplication_ExplicitAppName(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)

	res, err := e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "Household Survey")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "Household Survey", sess.AppName)
}

func TestService_LoadApplication_DeploysFiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)

	raw := []byte{0x01, 0x02, 0xff}
	files := []session.FileSpec{
		{Path: "Census.ent", Content: "questionnaire definition"},
		{Path: "data/Census.dat", Content: base64.StdEncoding.EncodeToString(raw), Binary: true},
	}

	res, err := e.service.LoadApplication(ctx, sess.ID, samplePFF, files, "")
	require.NoError(t, err)
	require.True(t, res.Success)

	text, err := e.spaces.ReadFile(sess.Root, "Census.ent")
	require.NoError(t, err)
	assert.Equal(t, "questionnaire definition", string(text))

	bin, err := e.spaces.ReadFile(sess.Root, "data/Census.dat")
	require.NoError(t, err)
	assert.Equal(t, raw, bin)
}

func TestService_LoadApplication_BadBinaryContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)

	files := []session.FileSpec{{Path: "data/x.dat", Content: "!!! not base64", Binary: true}}
	_, err = e.service.LoadApplication(ctx, sess.ID, samplePFF, files, "")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
	assert.False(t, sess.ApplicationLoaded)
}

func TestService_LoadApplication_TornDownNamespace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)
	e.spaces.RemoveSubtree(sess.Root)

	_, err = e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.Error(t, err)
	assert.Equal(t, errors.StageNamespace, errors.StageOf(err))
	assert.Zero(t, e.factory.instance(sess.ID).callCount(), "engine must not be called")
}

func TestService_StartEntry_RequiresLoad(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)

	_, err = e.service.StartEntry(ctx, sess.ID, "add")
	assert.Equal(t, errors.KindAppNotLoaded, errors.KindOf(err))
	assert.NotContains(t, e.factory.instance(sess.ID).ops(), "startEntry")
}

func TestService_StartEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)
	_, err = e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.NoError(t, err)

	res, err := e.service.StartEntry(ctx, sess.ID, "")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, sess.EntryStarted)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(e.factory.instance(sess.ID).lastCall().payload, &payload))
	assert.Equal(t, "add", payload["mode"], "empty mode defaults to add")
}

func TestService_StartEntry_EngineRefuses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)
	_, err = e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.NoError(t, err)
	e.factory.instance(sess.ID).script("startEntry", respond("false"))

	res, err := e.service.StartEntry(ctx, sess.ID, "add")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.False(t, sess.EntryStarted)
}

func TestService_NavigationRequiresActiveEntry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sess, err := e.service.Create(ctx)
	require.NoError(t, err)
	_, err = e.service.LoadApplication(ctx, sess.ID, samplePFF, nil, "")
	require.NoError(t, err)

	before := e.factory.instance(sess.ID).callCount()

	ops := []func() (session.OpResult, error){
		func() (session.OpResult, error) { return e.service.GetCurrentPage(ctx, sess.ID) },
		func() (session.OpResult, error) { return e.service.AdvanceField(ctx, sess.ID, "x") },
		func() (session.OpResult, error) { return e.service.PreviousField(ctx, sess.ID) },
		func() (session.OpResult, error) { return e.service.EndGroup(ctx, sess.ID) },
		func() (session.OpResult, error) { return e.service.EndRoster(ctx, sess.ID) },
		func() (session.OpResult, error) { return e.service.StopEntry(ctx, sess.ID, true) },
		func() (session.OpResult, error) { return e.service.InvokeAction(ctx, sess.ID, "a", nil, "") },
	}

	for i, op := range ops {
		_, err := op()
		assert.Equalf(t, errors.KindEntryNotStarted, errors.KindOf(err), "op %d", i)
	}

	assert.Equal(t, before, e.factory.instance(sess.ID).callCount(),
		"precondition violations must not touch the engine")
}

func TestService_GetCurrentPage(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	e.factory.instance(sess.ID).script("getCurrentPage", respond(`{"fields":[{"name":"NAME","value":""}]}`))

	res, err := e.service.GetCurrentPage(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, res.Page)
}

func TestService_AdvanceField(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	inst := e.factory.instance(sess.ID)
	inst.script("advanceField", respond(`{"fields":[{"name":"AGE"}]}`))

	res, err := e.service.AdvanceField(context.Background(), sess.ID, "Mary")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotNil(t, res.Page)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(inst.lastCall().payload, &payload))
	assert.Equal(t, "Mary", payload["value"])
}

func TestService_AdvanceField_DialogIntercepted(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)

	responder := dialog.NewResponder()
	e.factory.instance(sess.ID).script("advanceField", func(ctx context.Context, payload []byte) (engine.Outcome, error) {
		responder.Answer(ctx, dialog.NameErrorMessage, []byte(`{"message":"Age out of range"}`))
		return engine.Immediate([]byte(`{"fields":[{"name":"AGE"}]}`)), nil
	})

	res, err := e.service.AdvanceField(context.Background(), sess.ID, 240)
	require.NoError(t, err, "an intercepted dialog must not fail the call")

	assert.True(t, res.Success)
	assert.NotNil(t, res.Page)
	require.Len(t, res.Dialogs, 1)
	assert.Equal(t, dialog.NameErrorMessage, res.Dialogs[0].DialogName)
	assert.True(t, res.Dialogs[0].AutoAcknowledged)
}

func TestService_NavigationEngineFalse(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	e.factory.instance(sess.ID).script("endRoster", respond("false"))

	res, err := e.service.EndRoster(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestService_StopEntry(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	inst := e.factory.instance(sess.ID)
	inst.script("stopEntry", respond(`{"saved":true}`))

	res, err := e.service.StopEntry(context.Background(), sess.ID, true)
	require.NoError(t, err)

	assert.True(t, res.Success)
	require.NotNil(t, res.Saved)
	assert.True(t, *res.Saved)
	assert.False(t, sess.EntryStarted)

	var payload map[string]bool
	require.NoError(t, json.Unmarshal(inst.lastCall().payload, &payload))
	assert.True(t, payload["save"])
}

func TestService_StopEntry_SaveOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		result string
		saved  bool
	}{
		{"structured false", `{"saved":false}`, false},
		{"structured true", `{"saved":true}`, true},
		{"legacy bool", "true", true},
		{"legacy bool false", "false", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t)
			sess := e.started(t)
			e.factory.instance(sess.ID).script("stopEntry", respond(tc.result))

			res, err := e.service.StopEntry(context.Background(), sess.ID, true)
			require.NoError(t, err)
			require.NotNil(t, res.Saved)
			assert.Equal(t, tc.saved, *res.Saved)
			assert.True(t, res.Success, "stop succeeds locally either way")
		})
	}
}

func TestService_StopEntry_TrapStillStops(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	e.factory.instance(sess.ID).script("stopEntry", func(ctx context.Context, payload []byte) (engine.Outcome, error) {
		return engine.Outcome{}, fmt.Errorf("trap")
	})

	_, err := e.service.StopEntry(context.Background(), sess.ID, false)
	assert.Equal(t, errors.KindEngineTrap, errors.KindOf(err))
	assert.False(t, sess.EntryStarted, "the local transition still happens")
}

func TestService_RestartAfterStop(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	ctx := context.Background()

	_, err := e.service.StopEntry(ctx, sess.ID, false)
	require.NoError(t, err)
	require.False(t, sess.EntryStarted)

	res, err := e.service.StartEntry(ctx, sess.ID, "modify")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, sess.EntryStarted, "stop does not forbid a later start")
}

func TestService_InvokeAction(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)
	inst := e.factory.instance(sess.ID)
	inst.script("invokeAction", respond(`{"cases":["c1","c2"]}`))
	inst.script("getCurrentPage", respond(`{"fields":[]}`))

	res, err := e.service.InvokeAction(context.Background(), sess.ID, "getCaseList",
		map[string]any{"filter": "all"}, "tok123")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.NotNil(t, res.Value)
	assert.NotNil(t, res.Page)

	ops := inst.ops()
	require.GreaterOrEqual(t, len(ops), 2)
	assert.Equal(t, "invokeAction", ops[len(ops)-2])
	assert.Equal(t, "getCurrentPage", ops[len(ops)-1], "a page refresh follows the action")

	calls := inst.allCalls()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(calls[len(calls)-2].payload, &payload))
	assert.Equal(t, "getCaseList", payload["action"])
	assert.Equal(t, "tok123", payload["accessToken"])
	assert.Equal(t, map[string]any{"filter": "all"}, payload["args"])
}

func TestService_InvokeAction_RequiresName(t *testing.T) {
	e := newEnv(t)
	sess := e.started(t)

	_, err := e.service.InvokeAction(context.Background(), sess.ID, "", nil, "")
	assert.Equal(t, errors.KindInvalidInput, errors.KindOf(err))
}

func TestService_DestroyUnknownIsNoop(t *testing.T) {
	e := newEnv(t)
	e.service.Destroy(context.Background(), "never-existed")
	assert.Zero(t, e.service.Count())
}

func TestService_Sessions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.service.Create(ctx)
	require.NoError(t, err)
	b, err := e.service.Create(ctx)
	require.NoError(t, err)

	list := e.service.Sessions()
	require.Len(t, list, 2)

	ids := []string{list[0].ID, list[1].ID}
	assert.Contains(t, ids, a.ID)
	assert.Contains(t, ids, b.ID)
}
