package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chuan-gyld/ai-firm/commbus"
	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/testutil"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type controlFixture struct {
	orch   *kernel.Orchestrator
	router *commbus.MessageRouter
	server *GracefulServer
	client *Client
}

// startControl runs a control service for a pm+developer orchestrator on an
// ephemeral localhost port. The orchestrator itself is never started, so
// queued commands stay queued until ApplyPendingCommands.
func startControl(t *testing.T, commandBuffer int) *controlFixture {
	t.Helper()

	reg, err := envelope.NewRegistry(envelope.RolePM, envelope.RoleDeveloper)
	require.NoError(t, err)
	router := commbus.NewMessageRouter(reg)

	cfg := kernel.DefaultOrchestratorConfig()
	cfg.CommandBuffer = commandBuffer
	orch, err := kernel.NewOrchestrator(kernel.NewProject("todo", "A todo app"), kernel.OrchestratorDeps{
		Router: router,
		Reasoners: map[envelope.Role]kernel.Reasoner{
			envelope.RolePM:        testutil.NewMockReasoner(),
			envelope.RoleDeveloper: testutil.NewMockReasoner(),
		},
	}, cfg)
	require.NoError(t, err)

	server := NewGracefulServer(NewControlServer(orch, router, testutil.NewNoopLogger()),
		"127.0.0.1:0", testutil.NewNoopLogger())
	_, err = server.StartBackground()
	require.NoError(t, err)
	t.Cleanup(func() { server.ShutdownWithTimeout(time.Second) })

	client, err := Dial(server.Address())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &controlFixture{orch: orch, router: router, server: server, client: client}
}

func callCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// SEND COMMAND
// =============================================================================

func TestControl_SendCommandQueues(t *testing.T) {
	f := startControl(t, 8)
	ctx := callCtx(t)

	require.NoError(t, f.client.SendCommand(ctx, kernel.Pause()))
	require.NoError(t, f.client.SendCommand(ctx, kernel.Inject("prefer sqlite", envelope.RoleDeveloper)))

	assert.False(t, f.orch.Project().Record().Paused, "not applied synchronously")
	assert.Equal(t, 2, f.orch.ApplyPendingCommands())
	assert.True(t, f.orch.Project().Record().Paused)
}

func TestControl_SendCommandValidation(t *testing.T) {
	f := startControl(t, 8)
	ctx := callCtx(t)

	tests := []struct {
		name string
		req  map[string]any
	}{
		{"missing kind", map[string]any{}},
		{"unknown kind", map[string]any{"kind": "reboot"}},
		{"internal kind", map[string]any{"kind": "revoke_signoff", "text": "x"}},
		{"unknown role", map[string]any{"kind": "pause", "target": "ceo"}},
		{"role not in run", map[string]any{"kind": "pause", "target": "tester"}},
		{"inject without text", map[string]any{"kind": "inject"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client.call(ctx, SendCommandMethod, tt.req)
			require.Error(t, err)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
	assert.Equal(t, 0, f.orch.ApplyPendingCommands())
}

func TestControl_SendCommandTargetAll(t *testing.T) {
	f := startControl(t, 8)

	resp, err := f.client.call(callCtx(t), SendCommandMethod, map[string]any{"kind": "status", "target": "all"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, "all", resp["target"])
}

func TestControl_CommandQueueFull(t *testing.T) {
	f := startControl(t, 1)
	ctx := callCtx(t)

	require.NoError(t, f.client.SendCommand(ctx, kernel.Resume()))
	err := f.client.SendCommand(ctx, kernel.Resume())
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

// =============================================================================
// DASHBOARD & ACTIVITY
// =============================================================================

func TestControl_Dashboard(t *testing.T) {
	f := startControl(t, 8)
	ctx := callCtx(t)
	_, err := f.orch.Seed(ctx)
	require.NoError(t, err)

	d, err := f.client.Dashboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, "0/2 agents signed off", d["summary"])
	assert.Equal(t, false, d["converged"])
	agents, ok := d["agents"].([]any)
	require.True(t, ok)
	assert.Len(t, agents, 2)

	project, ok := d["project"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "todo", project["name"])
	assert.Equal(t, "discovery", project["state"])
}

func TestControl_RecentActivity(t *testing.T) {
	f := startControl(t, 8)
	ctx := callCtx(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.router.Send(ctx, envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleDeveloper),
			envelope.KindNotification, "note")))
	}

	all, err := f.client.RecentActivity(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	two, err := f.client.RecentActivity(ctx, 2)
	require.NoError(t, err)
	require.Len(t, two, 2)
	assert.Equal(t, "note", two[1]["subject"])
	assert.Equal(t, "developer", two[1]["recipient"])

	_, err = f.client.call(ctx, RecentActivityMethod, map[string]any{"limit": -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestControl_Clarifications(t *testing.T) {
	f := startControl(t, 8)
	ctx := callCtx(t)

	none, err := f.client.Clarifications(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)

	f.orch.RequestMilestone(envelope.RolePM, kernel.MilestoneRequest{Name: "requirements", Description: "v1 scope"})

	items, err := f.client.Clarifications(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "milestone", items[0]["kind"])
	assert.Equal(t, "pm", items[0]["role"])
}

// =============================================================================
// SERVER LIFECYCLE
// =============================================================================

func TestGracefulServer_StartStopsOnCancel(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	server := NewGracefulServer(&ControlServer{logger: logger}, "127.0.0.1:0", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	require.Eventually(t, func() bool { return logger.Has("grpc_server_started") }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, logger.Has("grpc_graceful_stop_completed"))

	// Idempotent.
	server.GracefulStop()
}

func TestGracefulServer_ListenError(t *testing.T) {
	server := NewGracefulServer(&ControlServer{}, "not-an-address", testutil.NewNoopLogger())
	_, err := server.StartBackground()
	assert.ErrorContains(t, err, "failed to listen")
}
