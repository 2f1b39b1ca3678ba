package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// ArtifactVersion is one stored revision of an artifact.
type ArtifactVersion struct {
	Version   int
	Content   string
	UpdatedAt time.Time
}

func toArtifactRow(a kernel.Artifact) (artifactRow, error) {
	meta := ""
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return artifactRow{}, fmt.Errorf("encode artifact metadata: %w", err)
		}
		meta = string(b)
	}
	created, updated := a.CreatedAt, a.UpdatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if updated.IsZero() {
		updated = created
	}
	return artifactRow{
		ID:          a.ID,
		ProjectID:   a.ProjectID,
		Kind:        string(a.Kind),
		Name:        a.Name,
		Owner:       string(a.Owner),
		Version:     a.Version,
		Content:     a.Content,
		Metadata:    meta,
		CreatedAtMs: created.UnixMilli(),
		UpdatedAtMs: updated.UnixMilli(),
	}, nil
}

func (r artifactRow) artifact() kernel.Artifact {
	a := kernel.Artifact{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Kind:      kernel.ArtifactKind(r.Kind),
		Name:      r.Name,
		Content:   r.Content,
		Owner:     envelope.Role(r.Owner),
		Version:   r.Version,
		CreatedAt: time.UnixMilli(r.CreatedAtMs).UTC(),
		UpdatedAt: time.UnixMilli(r.UpdatedAtMs).UTC(),
	}
	if r.Metadata != "" {
		_ = json.Unmarshal([]byte(r.Metadata), &a.Metadata)
	}
	return a
}

func validateArtifact(a kernel.Artifact) error {
	if a.ID == "" || a.Name == "" {
		return errors.New("artifact requires an id and a name")
	}
	if a.Version < 1 {
		return fmt.Errorf("artifact %s has invalid version %d", a.ID, a.Version)
	}
	return nil
}

// Create implements kernel.ArtifactStore.
func (s *Store) Create(ctx context.Context, a kernel.Artifact) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := validateArtifact(a); err != nil {
		return err
	}
	row, err := toArtifactRow(a)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&artifactRow{}).Where("id = ?", a.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%s: %w", a.ID, ErrArtifactExists)
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Create(&artifactVersionRow{
			ArtifactID: row.ID,
			Version:    row.Version,
			Content:    row.Content,
			SavedAtMs:  row.UpdatedAtMs,
		}).Error
	})
}

// Update implements kernel.ArtifactStore. An artifact that was never
// created is stored as new; otherwise the version must advance.
func (s *Store) Update(ctx context.Context, a kernel.Artifact) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if err := validateArtifact(a); err != nil {
		return err
	}
	row, err := toArtifactRow(a)
	if err != nil {
		return err
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var existing artifactRow
		err := tx.Where("id = ?", a.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if row.Version <= existing.Version {
				return fmt.Errorf("%s v%d (stored v%d): %w", a.ID, row.Version, existing.Version, ErrStaleArtifact)
			}
			row.CreatedAtMs = existing.CreatedAtMs
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
		}
		return tx.Create(&artifactVersionRow{
			ArtifactID: row.ID,
			Version:    row.Version,
			Content:    row.Content,
			SavedAtMs:  row.UpdatedAtMs,
		}).Error
	})
}

// GetArtifact returns the latest version of an artifact.
func (s *Store) GetArtifact(ctx context.Context, id string) (kernel.Artifact, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return kernel.Artifact{}, err
	}
	var row artifactRow
	err = db.Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kernel.Artifact{}, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return kernel.Artifact{}, err
	}
	return row.artifact(), nil
}

// ListArtifacts returns a project's artifacts ordered by owner and name.
func (s *Store) ListArtifacts(ctx context.Context, projectID string) ([]kernel.Artifact, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	var rows []artifactRow
	if err := db.Where("project_id = ?", projectID).Order("owner, name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]kernel.Artifact, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.artifact())
	}
	return out, nil
}

// ArtifactHistory returns every stored version of an artifact, oldest first.
func (s *Store) ArtifactHistory(ctx context.Context, id string) ([]ArtifactVersion, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	var rows []artifactVersionRow
	if err := db.Where("artifact_id = ?", id).Order("version").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]ArtifactVersion, 0, len(rows))
	for _, r := range rows {
		out = append(out, ArtifactVersion{
			Version:   r.Version,
			Content:   r.Content,
			UpdatedAt: time.UnixMilli(r.SavedAtMs).UTC(),
		})
	}
	return out, nil
}
