package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// SnapshotInfo describes a stored snapshot without its body.
type SnapshotInfo struct {
	ID        uint
	ProjectID string
	Reason    string
	State     kernel.ProjectState
	SignedOff int
	Agents    int
	CreatedAt time.Time
}

// Snapshot implements kernel.PersistenceHook. Older snapshots beyond the
// retention are pruned in the same transaction.
func (s *Store) Snapshot(ctx context.Context, snap kernel.ProjectSnapshot) error {
	db, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if snap.Project.ID == "" {
		return errors.New("snapshot has no project id")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	signed := 0
	for _, a := range snap.Agents {
		if a.SignedOff {
			signed++
		}
	}
	row := snapshotRow{
		ProjectID: snap.Project.ID,
		Reason:    snap.Reason,
		State:     string(snap.Project.State),
		SignedOff: signed,
		Agents:    len(snap.Agents),
		Body:      string(body),
		TakenAtMs: time.Now().UTC().UnixMilli(),
	}

	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if s.retention < 0 {
			return nil
		}
		keep := tx.Model(&snapshotRow{}).Select("id").
			Where("project_id = ?", row.ProjectID).
			Order("id DESC").Limit(s.retention)
		return tx.Where("project_id = ? AND id NOT IN (?)", row.ProjectID, keep).
			Delete(&snapshotRow{}).Error
	})
}

// LatestSnapshot returns the newest snapshot of a project.
func (s *Store) LatestSnapshot(ctx context.Context, projectID string) (*kernel.ProjectSnapshot, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	var row snapshotRow
	err = db.Where("project_id = ?", projectID).Order("id DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("snapshot for %s: %w", projectID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var snap kernel.ProjectSnapshot
	if err := json.Unmarshal([]byte(row.Body), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %d: %w", row.ID, err)
	}
	return &snap, nil
}

// ListSnapshots returns up to limit snapshot headers, newest first.
func (s *Store) ListSnapshots(ctx context.Context, projectID string, limit int) ([]SnapshotInfo, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows := make([]snapshotRow, 0, limit)
	if err := db.Select("id", "project_id", "reason", "state", "signed_off", "agents", "taken_at_ms").
		Where("project_id = ?", projectID).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SnapshotInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, SnapshotInfo{
			ID:        r.ID,
			ProjectID: r.ProjectID,
			Reason:    r.Reason,
			State:     kernel.ProjectState(r.State),
			SignedOff: r.SignedOff,
			Agents:    r.Agents,
			CreatedAt: time.UnixMilli(r.TakenAtMs).UTC(),
		})
	}
	return out, nil
}

// CountSnapshots returns how many snapshots a project has.
func (s *Store) CountSnapshots(ctx context.Context, projectID string) (int64, error) {
	db, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = db.Model(&snapshotRow{}).Where("project_id = ?", projectID).Count(&n).Error
	return n, err
}
