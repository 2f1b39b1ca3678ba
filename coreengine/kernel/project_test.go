package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// =============================================================================
// Project Tests
// =============================================================================

func TestNewProject(t *testing.T) {
	p := NewProject("todo", "A todo app for teams")

	assert.Contains(t, p.ID(), "prj_")
	assert.Equal(t, "todo", p.Name())
	assert.Equal(t, "A todo app for teams", p.Idea())
	assert.Equal(t, ProjectCreated, p.State())
}

func TestProject_ForwardTransitions(t *testing.T) {
	p := NewProject("x", "y")
	for _, to := range []ProjectState{
		ProjectDiscovery, ProjectDesign, ProjectImplementation, ProjectTesting, ProjectReview,
	} {
		require.NoError(t, p.Transition(to), "to %s", to)
	}
	assert.Equal(t, ProjectReview, p.State())

	require.NoError(t, p.Transition(ProjectImplementation), "rework edge")
	assert.Error(t, p.Transition(ProjectCreated))
	assert.NoError(t, p.Transition(ProjectImplementation), "same state is a no-op")
}

func TestProject_AwaitingInputRoundTrip(t *testing.T) {
	p := NewProject("x", "y")
	require.NoError(t, p.Transition(ProjectDiscovery))

	assert.True(t, p.EnterAwaitingInput())
	assert.False(t, p.EnterAwaitingInput())
	assert.Equal(t, ProjectAwaitingInput, p.State())
	assert.Equal(t, ProjectDiscovery, p.Record().PreviousState)

	// A phase report while waiting updates the phase to resume into.
	require.NoError(t, p.Transition(ProjectDesign))
	assert.Equal(t, ProjectAwaitingInput, p.State())

	assert.True(t, p.ResumeFromAwaitingInput())
	assert.Equal(t, ProjectDesign, p.State())
	assert.False(t, p.ResumeFromAwaitingInput())
}

func TestProject_TerminalStates(t *testing.T) {
	t.Run("delivered", func(t *testing.T) {
		p := NewProject("x", "y")
		assert.True(t, p.MarkDelivered())
		assert.False(t, p.MarkDelivered())
		assert.False(t, p.EnterAwaitingInput())
		assert.False(t, p.MarkFailed("late"))

		rec := p.Record()
		assert.Equal(t, ProjectDelivered, rec.State)
		require.NotNil(t, rec.DeliveredAt)
		assert.WithinDuration(t, time.Now(), *rec.DeliveredAt, time.Minute)
	})

	t.Run("failed", func(t *testing.T) {
		p := NewProject("x", "y")
		assert.True(t, p.MarkFailed("budget exhausted"))
		rec := p.Record()
		assert.Equal(t, ProjectFailed, rec.State)
		assert.Equal(t, "budget exhausted", rec.FailureReason)
	})
}

func TestProject_Milestones(t *testing.T) {
	p := NewProject("x", "y")
	p.AddMilestone(MilestoneRequest{Name: "design", Description: "api"}, string(envelope.RoleArchitect))

	assert.False(t, p.ResolveMilestone("unknown", MilestoneDecision{Approved: true}))
	assert.True(t, p.ResolveMilestone("design", MilestoneDecision{Approved: false, Feedback: "too big"}))
	assert.False(t, p.ResolveMilestone("design", MilestoneDecision{Approved: true}), "already decided")

	ms := p.Record().Milestones
	require.Len(t, ms, 1)
	assert.Equal(t, MilestoneRejected, ms[0].Status)
	assert.Equal(t, "too big", ms[0].Feedback)
	assert.Equal(t, "architect", ms[0].RequestedBy)
	assert.NotNil(t, ms[0].DecidedAt)
}

func TestProject_PausedOverlay(t *testing.T) {
	p := NewProject("x", "y")
	p.SetPaused(true)
	assert.True(t, p.Record().Paused)
	assert.Equal(t, ProjectCreated, p.State())
	p.SetPaused(false)
	assert.False(t, p.Record().Paused)
}

func TestParseProjectState(t *testing.T) {
	s, err := ParseProjectState("testing")
	require.NoError(t, err)
	assert.Equal(t, ProjectTesting, s)

	_, err = ParseProjectState("shipping")
	assert.Error(t, err)
}

// =============================================================================
// Memory Tests
// =============================================================================

func TestAgentMemory_BoundedLists(t *testing.T) {
	m := NewAgentMemory(2)
	m.RecordDecision(Decision{Subject: "db", Choice: "sqlite"})
	m.RecordDecision(Decision{Subject: "api", Choice: "grpc"})
	m.RecordDecision(Decision{Subject: "ui", Choice: "none"})

	decisions := m.Decisions()
	require.Len(t, decisions, 2)
	assert.Equal(t, "api", decisions[0].Subject)
	assert.Equal(t, "ui", decisions[1].Subject)
	assert.False(t, decisions[0].MadeAt.IsZero())
}

func TestAgentMemory_ConcernDefaults(t *testing.T) {
	m := NewAgentMemory(0)
	m.RecordConcern(Concern{Description: "no auth"})

	c := m.Concerns()
	require.Len(t, c, 1)
	assert.Equal(t, SeverityMedium, c[0].Severity)
}

func TestAgentMemory_GuidanceAndSummary(t *testing.T) {
	m := NewAgentMemory(0)
	assert.Empty(t, m.Summary())

	m.AddGuidance("  ")
	m.AddGuidance("Prefer boring tech")
	m.AddLearning("")
	m.AddLearning("Tests catch regressions")
	m.RecordDecision(Decision{Subject: "db", Choice: "sqlite", Rationale: "single file"})
	m.RecordConcern(Concern{Description: "no auth", Severity: SeverityHigh})

	assert.Equal(t, []string{"Prefer boring tech"}, m.Guidance())
	summary := m.Summary()
	assert.Contains(t, summary, "- db: sqlite (single file)")
	assert.Contains(t, summary, "no auth")
	assert.Contains(t, summary, "Tests catch regressions")
}

// =============================================================================
// Artifact Tests
// =============================================================================

func TestArtifactRevise(t *testing.T) {
	a := NewArtifact(ArtifactCode, "main.go", "package main", envelope.RoleDeveloper)
	assert.Contains(t, a.ID, "art_")
	assert.Equal(t, 1, a.Version)

	b := a.Revise("package main\n\nfunc main() {}")
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 2, b.Version)
	assert.Equal(t, "package main", a.Content, "original untouched")
}
