package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// responsesServer fakes the Responses endpoint and records request bodies.
type responsesServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []map[string]any
	status int
	reply  string
}

func newResponsesServer(t *testing.T, status int, reply string) *responsesServer {
	t.Helper()
	s := &responsesServer{status: status, reply: reply}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.bodies = append(s.bodies, body)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": {"message": "not found"}}`))
			return
		}
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(s.reply))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *responsesServer) lastBody() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		return nil
	}
	return s.bodies[len(s.bodies)-1]
}

func responseWithText(text string) string {
	payload := map[string]any{
		"id":         "resp_1",
		"object":     "response",
		"created_at": 1700000000,
		"model":      "gpt-test",
		"status":     "completed",
		"output": []any{
			map[string]any{
				"id":     "msg_1",
				"type":   "message",
				"role":   "assistant",
				"status": "completed",
				"content": []any{
					map[string]any{"type": "output_text", "text": text, "annotations": []any{}},
				},
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func newTestProvider(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:         url + "/v1/",
		Model:           "gpt-test",
		APIKey:          "sk-test",
		Temperature:     0.2,
		MaxOutputTokens: 512,
		Timeout:         5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return p
}

// =============================================================================
// OPENAI PROVIDER TESTS
// =============================================================================

func TestNewOpenAIProvider_RequiresModel(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestOpenAIProvider_Generate(t *testing.T) {
	srv := newResponsesServer(t, http.StatusOK, responseWithText(`{"sign_off": true}`))
	p := newTestProvider(t, srv.URL)

	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-test", p.Model())

	text, err := p.Generate(context.Background(), "You are the tester", "Review the build")
	require.NoError(t, err)
	assert.Equal(t, `{"sign_off": true}`, text)

	body := srv.lastBody()
	require.NotNil(t, body)
	assert.Equal(t, "gpt-test", body["model"])
	assert.Equal(t, "You are the tester", body["instructions"])
	assert.Equal(t, "Review the build", body["input"])
	assert.Equal(t, 0.2, body["temperature"])
	assert.Equal(t, 512.0, body["max_output_tokens"])
}

func TestOpenAIProvider_EmptyText(t *testing.T) {
	srv := newResponsesServer(t, http.StatusOK, responseWithText("   "))
	p := newTestProvider(t, srv.URL)

	_, err := p.Generate(context.Background(), "sys", "prompt")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIProvider_APIError(t *testing.T) {
	srv := newResponsesServer(t, http.StatusBadRequest,
		`{"error": {"message": "model not found", "type": "invalid_request_error"}}`)
	p := newTestProvider(t, srv.URL)

	_, err := p.Generate(context.Background(), "sys", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai status 400")
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAIProvider_DrivesReasoner(t *testing.T) {
	srv := newResponsesServer(t, http.StatusOK, responseWithText("```json\n{\"learning\": \"from the wire\"}\n```"))
	r, err := NewLLMReasoner(newTestProvider(t, srv.URL))
	require.NoError(t, err)

	env := envelope.New(envelope.To(envelope.RoleArchitect), envelope.To(envelope.RoleDeveloper),
		envelope.KindRequest, "Implement the API")
	out, err := r.Process(context.Background(), env, roleContext(envelope.RoleDeveloper))
	require.NoError(t, err)
	assert.Equal(t, "from the wire", out.Learning)
	assert.Contains(t, srv.lastBody()["instructions"], "Developer")
}
