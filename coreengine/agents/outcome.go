package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
	"github.com/chuan-gyld/ai-firm/coreengine/typeutil"
)

// ErrNoJSON is returned when a model reply holds no JSON object.
var ErrNoJSON = errors.New("no valid JSON object found in response")

// extractJSON parses text as a JSON object, or the first balanced object
// embedded in it (models like to wrap JSON in prose or code fences).
func extractJSON(text string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err == nil && doc != nil {
		return doc, nil
	}

	start, depth := -1, 0
	inString, escaped := false, false
	for i, c := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(text[start:i+1]), &doc); err == nil && doc != nil {
					return doc, nil
				}
				start = -1
			}
		}
	}
	return nil, ErrNoJSON
}

// =============================================================================
// DOCUMENT -> OUTCOME
// =============================================================================

// outcomeParser converts outcome documents for one envelope.
type outcomeParser struct {
	role      envelope.Role
	env       *envelope.Envelope
	artifacts *artifactBook
	logger    kernel.Logger
}

func (p *outcomeParser) parse(doc map[string]any) *kernel.Outcome {
	out := &kernel.Outcome{}
	self := envelope.To(p.role)

	reply := typeutil.Str(doc, "response")
	if reply == "" && p.env.RequiresResponse {
		reply = "Acknowledged: " + p.env.Subject
	}
	if reply != "" && p.env.Sender != self {
		out.Response = envelope.CreateResponse(p.env, self, reply)
	}

	// positions maps an index in doc["messages"] to one in out.Outgoing.
	positions := make(map[int]int)
	for i, m := range typeutil.Maps(doc["messages"]) {
		if env := p.message(m); env != nil {
			positions[i] = len(out.Outgoing)
			out.Outgoing = append(out.Outgoing, env)
		}
	}

	for _, a := range typeutil.Maps(doc["artifacts"]) {
		name, content := typeutil.Str(a, "name"), typeutil.Str(a, "content")
		if name == "" || content == "" {
			continue
		}
		art, created := p.artifacts.record(p.role, artifactKind(typeutil.Str(a, "kind"), p.role), name, content)
		if created {
			out.ArtifactsCreated = append(out.ArtifactsCreated, art)
		} else {
			out.ArtifactsUpdated = append(out.ArtifactsUpdated, art)
		}
	}

	if d, ok := typeutil.Map(doc["decision"]); ok && typeutil.Str(d, "subject") != "" {
		out.Decision = &kernel.Decision{
			Subject:   typeutil.Str(d, "subject"),
			Choice:    typeutil.Str(d, "choice"),
			Rationale: typeutil.Str(d, "rationale"),
		}
	}
	if c, ok := typeutil.Map(doc["concern"]); ok && typeutil.Str(c, "description") != "" {
		out.Concern = &kernel.Concern{
			Description: typeutil.Str(c, "description"),
			Severity:    severity(typeutil.Str(c, "severity")),
		}
	}
	out.Learning = typeutil.Str(doc, "learning")

	out.Clarification = clarification(doc["clarification"])
	if m, ok := typeutil.Map(doc["milestone"]); ok && typeutil.Str(m, "name") != "" {
		out.Milestone = &kernel.MilestoneRequest{
			Name:        typeutil.Str(m, "name"),
			Description: typeutil.Str(m, "description"),
		}
	}

	if phase := typeutil.Str(doc, "phase"); phase != "" {
		if st, err := kernel.ParseProjectState(strings.ToLower(phase)); err == nil {
			out.Phase = st
		} else {
			p.logger.Debug("outcome_phase_ignored", "role", string(p.role), "phase", phase)
		}
	}

	if blockers, ok := typeutil.Strings(doc["clear_blockers"]); ok {
		out.ClearBlockers = blockers
	}
	out.SignOff = typeutil.BoolOr(doc, "sign_off", false)
	out.RevokeSignOff = typeutil.Str(doc, "revoke_signoff")
	out.FollowUp = p.followUp(doc["follow_up"], positions)
	return out
}

// followUp reads {"subject", "content", "await"}. Await entries are indexes
// into the messages list or the word "clarification"; entries naming an
// ignored message are dropped.
func (p *outcomeParser) followUp(v any, positions map[int]int) *kernel.FollowUp {
	m, ok := typeutil.Map(v)
	if !ok {
		return nil
	}
	subject, content := typeutil.Str(m, "subject"), typeutil.Str(m, "content")
	if subject == "" {
		subject = truncate(content, 60)
	}
	if subject == "" {
		return nil
	}
	f := &kernel.FollowUp{Subject: subject, Content: content}
	items, _ := typeutil.Slice(m["await"])
	for _, item := range items {
		if s, ok := typeutil.String(item); ok {
			if strings.EqualFold(strings.TrimSpace(s), "clarification") {
				f.AwaitClarification = true
			}
			continue
		}
		if i, ok := typeutil.Int(item); ok {
			if pos, ok := positions[i]; ok {
				f.AwaitOutgoing = append(f.AwaitOutgoing, pos)
				continue
			}
		}
		p.logger.Debug("outcome_await_ignored", "role", string(p.role), "await", fmt.Sprint(item))
	}
	return f
}

// message builds one outgoing envelope, or nil when the entry is unusable.
func (p *outcomeParser) message(m map[string]any) *envelope.Envelope {
	to, err := address(typeutil.Str(m, "to"))
	if err != nil || to == envelope.To(p.role) {
		p.logger.Debug("outcome_message_ignored", "role", string(p.role), "to", typeutil.Str(m, "to"))
		return nil
	}
	subject := typeutil.Str(m, "subject")
	content := typeutil.Str(m, "content")
	if subject == "" && content == "" {
		return nil
	}
	if subject == "" {
		subject = truncate(content, 60)
	}

	kind := envelope.Kind(strings.ToLower(typeutil.StrOr(m, "kind", string(envelope.KindRequest))))
	if !kind.IsValid() || kind.IsReply() {
		kind = envelope.KindRequest
	}
	intent := envelope.Intent(strings.ToLower(typeutil.StrOr(m, "intent", string(p.env.Intent))))
	if !intent.IsValid() {
		intent = envelope.IntentGeneral
	}
	priority, err := envelope.ParsePriority(typeutil.StrOr(m, "priority", "medium"))
	if err != nil {
		priority = envelope.PriorityMedium
	}

	opts := []envelope.Option{
		envelope.WithContent(content),
		envelope.WithIntent(intent),
		envelope.WithPriority(priority),
		envelope.WithThread(threadOf(p.env)),
	}
	wantsReply := kind == envelope.KindRequest || kind == envelope.KindQuestion
	if typeutil.BoolOr(m, "requires_response", wantsReply) && !to.IsBroadcast() && !to.IsHuman() {
		opts = append(opts, envelope.WithResponseRequired())
	}
	return envelope.New(envelope.To(p.role), to, kind, subject, opts...)
}

func address(s string) (envelope.Address, error) {
	switch a := envelope.Address(strings.ToLower(strings.TrimSpace(s))); a {
	case envelope.AddressBroadcast, envelope.AddressHuman:
		return a, nil
	}
	r, err := envelope.ParseRole(s)
	if err != nil {
		return "", err
	}
	return envelope.To(r), nil
}

func clarification(v any) *kernel.ClarificationRequest {
	if q, ok := typeutil.String(v); ok && strings.TrimSpace(q) != "" {
		return &kernel.ClarificationRequest{Question: strings.TrimSpace(q)}
	}
	m, ok := typeutil.Map(v)
	if !ok || typeutil.Str(m, "question") == "" {
		return nil
	}
	return &kernel.ClarificationRequest{
		Question: typeutil.Str(m, "question"),
		Context:  typeutil.Str(m, "context"),
	}
}

func severity(s string) kernel.Severity {
	switch sev := kernel.Severity(strings.ToLower(s)); sev {
	case kernel.SeverityLow, kernel.SeverityMedium, kernel.SeverityHigh, kernel.SeverityCritical:
		return sev
	}
	return kernel.SeverityMedium
}

var defaultArtifactKinds = map[envelope.Role]kernel.ArtifactKind{
	envelope.RolePM:        kernel.ArtifactRequirements,
	envelope.RoleArchitect: kernel.ArtifactDesign,
	envelope.RoleDeveloper: kernel.ArtifactCode,
	envelope.RoleTester:    kernel.ArtifactTestPlan,
}

func artifactKind(s string, role envelope.Role) kernel.ArtifactKind {
	switch k := kernel.ArtifactKind(strings.ToLower(s)); k {
	case kernel.ArtifactRequirements, kernel.ArtifactDesign, kernel.ArtifactCode, kernel.ArtifactTestPlan,
		kernel.ArtifactBugReport, kernel.ArtifactReview, kernel.ArtifactOther:
		return k
	}
	if k, ok := defaultArtifactKinds[role]; ok {
		return k
	}
	return kernel.ArtifactOther
}

func threadOf(env *envelope.Envelope) string {
	if env.ThreadID != "" {
		return env.ThreadID
	}
	return env.ID
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// describeOutcome is a compact summary for debug logs.
func describeOutcome(out *kernel.Outcome) string {
	return fmt.Sprintf("response=%t messages=%d artifacts=%d follow_up=%t sign_off=%t",
		out.Response != nil, len(out.Outgoing), len(out.ArtifactsCreated)+len(out.ArtifactsUpdated),
		out.FollowUp != nil, out.SignOff)
}
