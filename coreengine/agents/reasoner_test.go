package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/testutil"
)

func roleContext(role envelope.Role) kernel.RoleContext {
	return kernel.RoleContext{
		Role:         role,
		ProjectName:  "todo",
		Idea:         "A todo app for small teams",
		ProjectState: kernel.ProjectDesign,
		Teammates:    []envelope.Role{envelope.RolePM, envelope.RoleDeveloper},
		Memory:       "Decisions:\n- db: sqlite",
		Guidance:     []string{"Prefer boring tech"},
		Blockers:     []string{"API unclear"},
	}
}

func newReasoner(t *testing.T, llm *testutil.MockLLMProvider) *LLMReasoner {
	t.Helper()
	r, err := NewLLMReasoner(llm, WithLogger(testutil.NewNoopLogger()))
	require.NoError(t, err)
	return r
}

// =============================================================================
// JSON EXTRACTION TESTS
// =============================================================================

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{"plain object", `{"sign_off": true}`, "sign_off", false},
		{"code fence", "```json\n{\"learning\": \"x\"}\n```", "learning", false},
		{"prose around", `Sure! Here it is: {"response": "done"} Hope that helps.`, "response", false},
		{"braces inside strings", `note {"response": "use {curly} braces"}`, "response", false},
		{"broken first object", `{oops} then {"phase": "design"}`, "phase", false},
		{"no json", "I cannot help with that.", "", true},
		{"array only", `[1, 2, 3]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := extractJSON(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, doc, tt.wantKey)
		})
	}
}

// =============================================================================
// PROMPT TESTS
// =============================================================================

func TestSystemPrompt(t *testing.T) {
	for _, role := range envelope.AllRoles() {
		p := SystemPrompt(role)
		assert.Contains(t, p, role.DisplayName(), role)
		assert.Contains(t, p, `"sign_off"`, role)
	}
}

func TestBuildPrompt(t *testing.T) {
	env := envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleArchitect),
		envelope.KindRequest, "Design the API",
		envelope.WithContent("Three endpoints please"),
		envelope.WithIntent(envelope.IntentDesign),
		envelope.WithPayload(map[string]any{"context": "mobile first"}),
		envelope.WithResponseRequired())

	p := buildPrompt(env, roleContext(envelope.RoleArchitect))

	for _, want := range []string{
		"Project: todo (phase: design)",
		"Idea: A todo app for small teams",
		"Teammates: pm, developer",
		"- API unclear",
		"- Prefer boring tech",
		"db: sqlite",
		"Incoming request from pm",
		"Subject: Design the API",
		"Three endpoints please",
		"Context: mobile first",
		"waiting for your response",
	} {
		assert.Contains(t, p, want)
	}
}

// =============================================================================
// REASONER TESTS
// =============================================================================

func TestNewLLMReasoner_RequiresProvider(t *testing.T) {
	_, err := NewLLMReasoner(nil)
	assert.Error(t, err)
}

func TestLLMReasoner_FullOutcome(t *testing.T) {
	llm := testutil.NewMockLLMProvider().WithResponse(SystemPrompt(envelope.RoleArchitect), `{
		"response": "Design is ready",
		"messages": [
			{"to": "developer", "kind": "request", "intent": "implementation", "priority": "high",
			 "subject": "Build the API", "content": "See design.md"},
			{"to": "broadcast", "kind": "notification", "subject": "Design published"},
			{"to": "architect", "subject": "note to self"},
			{"to": "marketing", "subject": "unknown role"}
		],
		"artifacts": [{"kind": "design", "name": "design.md", "content": "# Design"}, {"name": "", "content": "x"}],
		"decision": {"subject": "api", "choice": "rest", "rationale": "simple"},
		"concern": {"description": "no auth yet", "severity": "HIGH"},
		"learning": "PM prefers small scope",
		"clarification": "Do we need SSO?",
		"milestone": {"name": "design", "description": "API and data model"},
		"phase": "implementation",
		"clear_blockers": ["API unclear"],
		"sign_off": "true"
	}`)
	r := newReasoner(t, llm)

	req := envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleArchitect),
		envelope.KindRequest, "Design the API", envelope.WithResponseRequired())
	out, err := r.Process(context.Background(), req, roleContext(envelope.RoleArchitect))
	require.NoError(t, err)

	require.NotNil(t, out.Response)
	assert.Equal(t, req.ID, out.Response.ParentID)
	assert.Equal(t, envelope.To(envelope.RolePM), out.Response.Recipient)
	assert.Equal(t, "Design is ready", out.Response.Content)

	require.Len(t, out.Outgoing, 2, "self and unknown recipients dropped")
	build := out.Outgoing[0]
	assert.Equal(t, envelope.To(envelope.RoleDeveloper), build.Recipient)
	assert.Equal(t, envelope.PriorityHigh, build.Priority)
	assert.Equal(t, envelope.IntentImplementation, build.Intent)
	assert.True(t, build.RequiresResponse)
	assert.Equal(t, req.ID, build.ThreadID)
	assert.False(t, out.Outgoing[1].RequiresResponse, "broadcasts never wait")

	require.Len(t, out.ArtifactsCreated, 1)
	assert.Equal(t, kernel.ArtifactDesign, out.ArtifactsCreated[0].Kind)
	assert.Equal(t, envelope.RoleArchitect, out.ArtifactsCreated[0].Owner)

	assert.Equal(t, "rest", out.Decision.Choice)
	assert.Equal(t, kernel.SeverityHigh, out.Concern.Severity)
	assert.Equal(t, "PM prefers small scope", out.Learning)
	assert.Equal(t, "Do we need SSO?", out.Clarification.Question)
	assert.Equal(t, "design", out.Milestone.Name)
	assert.Equal(t, kernel.ProjectImplementation, out.Phase)
	assert.Equal(t, []string{"API unclear"}, out.ClearBlockers)
	assert.True(t, out.SignOff)

	calls := llm.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, SystemPrompt(envelope.RoleArchitect), calls[0].System)
	assert.Contains(t, calls[0].Prompt, "Subject: Design the API")
}

func TestLLMReasoner_FollowUpAwaitsParsedMessages(t *testing.T) {
	llm := testutil.NewMockLLMProvider()
	llm.DefaultResponse = `{
		"messages": [
			{"to": "developer", "kind": "request", "subject": "Build it"},
			{"to": "marketing", "subject": "unknown role"},
			{"to": "tester", "kind": "question", "subject": "Coverage?"}
		],
		"clarification": "Do we need SSO?",
		"follow_up": {"content": "merge the answers into design.md", "await": [0, 1, 2, "Clarification", "later", 9]}
	}`
	r := newReasoner(t, llm)

	out, err := r.Process(context.Background(), testutil.NewRequest(envelope.RoleArchitect, "design"),
		roleContext(envelope.RoleArchitect))
	require.NoError(t, err)

	require.Len(t, out.Outgoing, 2)
	require.NotNil(t, out.FollowUp)
	assert.Equal(t, "merge the answers into design.md", out.FollowUp.Subject, "subject falls back to content")
	assert.Equal(t, []int{0, 1}, out.FollowUp.AwaitOutgoing, "indexes follow the kept messages")
	assert.True(t, out.FollowUp.AwaitClarification)
}

func TestLLMReasoner_FollowUpNeedsText(t *testing.T) {
	llm := testutil.NewMockLLMProvider()
	llm.DefaultResponse = `{"follow_up": {"await": [0]}}`
	r := newReasoner(t, llm)

	out, err := r.Process(context.Background(), testutil.NewRequest(envelope.RolePM, "idea"),
		roleContext(envelope.RolePM))
	require.NoError(t, err)
	assert.Nil(t, out.FollowUp)
}

func TestLLMReasoner_AcknowledgesRequiredResponse(t *testing.T) {
	llm := testutil.NewMockLLMProvider()
	llm.DefaultResponse = `{"learning": "noted"}`
	r := newReasoner(t, llm)

	req := envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleTester),
		envelope.KindQuestion, "Ready?", envelope.WithResponseRequired())
	out, err := r.Process(context.Background(), req, roleContext(envelope.RoleTester))
	require.NoError(t, err)
	require.NotNil(t, out.Response)
	assert.Equal(t, "Acknowledged: Ready?", out.Response.Content)

	note := envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleTester),
		envelope.KindNotification, "FYI")
	out, err = r.Process(context.Background(), note, roleContext(envelope.RoleTester))
	require.NoError(t, err)
	assert.Nil(t, out.Response)
}

func TestLLMReasoner_ArtifactVersions(t *testing.T) {
	llm := testutil.NewMockLLMProvider()
	llm.DefaultResponse = `{"artifacts": [{"name": "main.go", "content": "package main"}]}`
	r := newReasoner(t, llm)
	rc := roleContext(envelope.RoleDeveloper)
	task := func() *envelope.Envelope {
		return envelope.New(envelope.To(envelope.RoleArchitect), envelope.To(envelope.RoleDeveloper),
			envelope.KindRequest, "Implement")
	}

	first, err := r.Process(context.Background(), task(), rc)
	require.NoError(t, err)
	require.Len(t, first.ArtifactsCreated, 1)
	assert.Equal(t, kernel.ArtifactCode, first.ArtifactsCreated[0].Kind)

	second, err := r.Process(context.Background(), task(), rc)
	require.NoError(t, err)
	assert.Empty(t, second.ArtifactsCreated)
	require.Len(t, second.ArtifactsUpdated, 1)
	assert.Equal(t, first.ArtifactsCreated[0].ID, second.ArtifactsUpdated[0].ID)
	assert.Equal(t, 2, second.ArtifactsUpdated[0].Version)

	// Same name from another role is a different artifact.
	other, err := r.Process(context.Background(), task(), roleContext(envelope.RoleTester))
	require.NoError(t, err)
	require.Len(t, other.ArtifactsCreated, 1)
	assert.Equal(t, kernel.ArtifactTestPlan, other.ArtifactsCreated[0].Kind)
}

func TestLLMReasoner_Failures(t *testing.T) {
	task := envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleDeveloper),
		envelope.KindRequest, "Implement")
	rc := roleContext(envelope.RoleDeveloper)

	t.Run("provider error", func(t *testing.T) {
		boom := errors.New("rate limited upstream")
		r := newReasoner(t, testutil.NewMockLLMProvider().WithError(boom))
		_, err := r.Process(context.Background(), task, rc)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unparseable reply", func(t *testing.T) {
		llm := testutil.NewMockLLMProvider()
		llm.DefaultResponse = "I would rather not."
		r := newReasoner(t, llm)
		_, err := r.Process(context.Background(), task, rc)
		assert.ErrorIs(t, err, ErrNoJSON)
	})

	t.Run("nil envelope", func(t *testing.T) {
		r := newReasoner(t, testutil.NewMockLLMProvider())
		_, err := r.Process(context.Background(), nil, rc)
		assert.Error(t, err)
	})
}

func TestLLMReasoner_IgnoresUnknownFields(t *testing.T) {
	llm := testutil.NewMockLLMProvider()
	llm.DefaultResponse = `{"phase": "shipping", "concern": {"description": "flaky", "severity": "meh"},
		"clarification": {"question": ""}, "milestone": {"description": "no name"}, "revoke_signoff": "bug found"}`
	r := newReasoner(t, llm)

	env := envelope.New(envelope.To(envelope.RoleDeveloper), envelope.To(envelope.RoleTester),
		envelope.KindNotification, "Build ready")
	out, err := r.Process(context.Background(), env, roleContext(envelope.RoleTester))
	require.NoError(t, err)

	assert.Empty(t, out.Phase)
	assert.Equal(t, kernel.SeverityMedium, out.Concern.Severity)
	assert.Nil(t, out.Clarification)
	assert.Nil(t, out.Milestone)
	assert.Equal(t, "bug found", out.RevokeSignOff)
	assert.False(t, out.SignOff)
}

func TestLLMReasoner_CustomPrompt(t *testing.T) {
	llm := testutil.NewMockLLMProvider().WithResponse("CUSTOM", `{"learning": "custom"}`)
	r, err := NewLLMReasoner(llm, WithSystemPrompt(envelope.RolePM, "CUSTOM pm prompt"))
	require.NoError(t, err)

	env := envelope.New(envelope.AddressHuman, envelope.To(envelope.RolePM), envelope.KindRequest, "Idea")
	out, err := r.Process(context.Background(), env, roleContext(envelope.RolePM))
	require.NoError(t, err)
	assert.Equal(t, "custom", out.Learning)
	assert.Equal(t, SystemPrompt(envelope.RoleTester), r.SystemPrompt(envelope.RoleTester))
}

func TestLLMReasoner_ImplementsReasoner(t *testing.T) {
	var _ kernel.Reasoner = (*LLMReasoner)(nil)
	var _ LLMProvider = (*testutil.MockLLMProvider)(nil)
	var _ LLMProvider = (*OpenAIProvider)(nil)
}
