package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"atlas/api/internal/contentstore"
	"atlas/api/internal/events"
)

type ReconcileReport struct {
	Checked  int
	Repaired int
	Failed   int
}

// Reconcile repoints metadata rows left behind a newer commit, which happens
// when a save wrote content but failed to update metadata. Rows that changed
// while the pass was running are left alone.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	rows, err := s.store.ListScopeConfigurations(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list scope configurations: %w", err)
	}

	// Cached history pages may lag the host; compare against the host itself.
	content := contentstore.Uncached(s.content)
	var report ReconcileReport
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		latest, err := contentstore.Latest(ctx, content, row.ContentPath)
		if err != nil {
			if errors.Is(err, contentstore.ErrNotFound) {
				log.Printf("reconcile: %s:%s has no commits at %s", row.Level, row.OwnerID, row.ContentPath)
			} else {
				log.Printf("reconcile: %s:%s history: %v", row.Level, row.OwnerID, err)
			}
			report.Failed++
			continue
		}
		if latest.CommitID == row.CurrentCommitID {
			continue
		}

		moved, err := s.store.RepointScopeConfiguration(ctx, row.ID, row.CurrentCommitID, latest.CommitID)
		if err != nil {
			log.Printf("reconcile: %s:%s repoint: %v", row.Level, row.OwnerID, err)
			report.Failed++
			continue
		}
		if !moved {
			continue
		}
		log.Printf("reconcile: %s:%s moved from %s to %s", row.Level, row.OwnerID, row.CurrentCommitID, latest.CommitID)
		report.Repaired++
		s.publish(ctx, events.ConfigurationUpdated{
			Level:       row.Level,
			OwnerID:     row.OwnerID,
			ContentPath: row.ContentPath,
			CommitID:    latest.CommitID,
			Author:      latest.Author,
			Reason:      events.ReasonReconcile,
			OccurredAt:  time.Now().UTC(),
		})
	}
	return report, nil
}
