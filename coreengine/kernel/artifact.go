package kernel

import (
	"time"

	"github.com/google/uuid"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// ArtifactKind classifies a work product.
type ArtifactKind string

const (
	ArtifactRequirements ArtifactKind = "requirements"
	ArtifactDesign       ArtifactKind = "design"
	ArtifactCode         ArtifactKind = "code"
	ArtifactTestPlan     ArtifactKind = "test_plan"
	ArtifactBugReport    ArtifactKind = "bug_report"
	ArtifactReview       ArtifactKind = "review"
	ArtifactOther        ArtifactKind = "other"
)

// Artifact is a versioned work product owned by one role.
type Artifact struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Kind      ArtifactKind   `json:"kind"`
	Name      string         `json:"name"`
	Content   string         `json:"content"`
	Owner     envelope.Role  `json:"owner"`
	Version   int            `json:"version"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewArtifact creates version 1 of an artifact.
func NewArtifact(kind ArtifactKind, name, content string, owner envelope.Role) Artifact {
	now := time.Now().UTC()
	return Artifact{
		ID:        "art_" + uuid.New().String()[:16],
		Kind:      kind,
		Name:      name,
		Content:   content,
		Owner:     owner,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Revise returns the next version of the artifact with new content.
func (a Artifact) Revise(content string) Artifact {
	next := a
	next.Content = content
	next.Version = a.Version + 1
	next.UpdatedAt = time.Now().UTC()
	return next
}
