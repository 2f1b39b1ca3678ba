package agents

import (
	"fmt"
	"strings"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// =============================================================================
// ROLE PROMPTS
// =============================================================================

var rolePrompts = map[envelope.Role]string{
	envelope.RolePM: `You are the Product Manager of a small software team.
You turn a raw product idea into requirements and user stories with acceptance
criteria, keep scope to a minimum viable product, and ask the human operator
when the idea is ambiguous. You own requirements.md and user_stories.md and
you hand finished requirements to the architect.`,

	envelope.RoleArchitect: `You are the Software Architect of a small software team.
You design the system from the product manager's requirements: components,
data model, APIs and technology choices. You own design.md and decisions.md,
give the developer precise specifications and push back on requirements that
cannot be built simply.`,

	envelope.RoleDeveloper: `You are the Developer of a small software team.
You implement the architect's design in small, tested increments, report
blockers to the architect and fix bugs reported by the tester. You own the
source files and implementation_notes.md.`,

	envelope.RoleTester: `You are the QA Tester of a small software team.
You derive test cases from the acceptance criteria, review what the developer
delivers, report bugs with reproduction steps and severity, and sign off only
when quality is acceptable. You own test_plan.md and bug_reports.md.`,
}

// outcomeContract is appended to every role prompt.
const outcomeContract = `Reply with exactly one JSON object and nothing else. Every field is optional:

{
  "response": "reply to the sender of the incoming message",
  "messages": [{"to": "pm|architect|developer|tester|broadcast", "kind": "request|question|notification|feedback",
                "intent": "requirements|design|implementation|bug_report|review|general",
                "priority": "critical|high|medium|low", "subject": "...", "content": "...",
                "requires_response": true}],
  "artifacts": [{"kind": "requirements|design|code|test_plan|bug_report|review|other", "name": "file name", "content": "..."}],
  "decision": {"subject": "...", "choice": "...", "rationale": "..."},
  "concern": {"description": "...", "severity": "low|medium|high|critical"},
  "learning": "something worth remembering",
  "clarification": {"question": "question for the human operator", "context": "..."},
  "milestone": {"name": "...", "description": "what the operator should approve"},
  "phase": "discovery|design|implementation|testing|review",
  "clear_blockers": ["blocker text that is resolved"],
  "sign_off": true,
  "revoke_signoff": "reason you can no longer sign off",
  "follow_up": {"subject": "task for yourself", "content": "...", "await": [0, "clarification"]}
}

A follow_up is delivered back to you once the listed messages (by index in "messages") and the
clarification have been answered. Sign off only when your part of the project is complete and you have no open concerns.`

// SystemPrompt returns the full system prompt for role.
func SystemPrompt(role envelope.Role) string {
	base, ok := rolePrompts[role]
	if !ok {
		base = fmt.Sprintf("You are the %s of a small software team.", role.DisplayName())
	}
	return base + "\n\n" + outcomeContract
}

// =============================================================================
// USER PROMPT
// =============================================================================

// buildPrompt renders the role context and the incoming envelope.
func buildPrompt(env *envelope.Envelope, rc kernel.RoleContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s (phase: %s)\n", rc.ProjectName, rc.ProjectState)
	if rc.Idea != "" {
		fmt.Fprintf(&b, "Idea: %s\n", rc.Idea)
	}
	if len(rc.Teammates) > 0 {
		names := make([]string, len(rc.Teammates))
		for i, r := range rc.Teammates {
			names[i] = string(r)
		}
		fmt.Fprintf(&b, "Teammates: %s\n", strings.Join(names, ", "))
	}
	if rc.SignedOff {
		b.WriteString("You have signed off.\n")
	}
	if len(rc.Blockers) > 0 {
		b.WriteString("Blockers preventing your sign-off:\n")
		for _, bl := range rc.Blockers {
			fmt.Fprintf(&b, "- %s\n", bl)
		}
	}
	if len(rc.Guidance) > 0 {
		b.WriteString("Guidance from the operator:\n")
		for _, g := range rc.Guidance {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	if rc.Memory != "" {
		fmt.Fprintf(&b, "\nYour memory:\n%s\n", rc.Memory)
	}

	fmt.Fprintf(&b, "\nIncoming %s from %s (priority %s, intent %s)\n", env.Kind, env.Sender, env.Priority, env.Intent)
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	if env.Content != "" {
		fmt.Fprintf(&b, "\n%s\n", env.Content)
	}
	if ctxText, ok := env.Payload["context"].(string); ok && ctxText != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", ctxText)
	}
	if env.RequiresResponse {
		b.WriteString("\nThe sender is waiting for your response.\n")
	}
	return b.String()
}
