package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"atlas/api/internal/events"
	"atlas/api/internal/store"
)

type saveStep int

const (
	stepPending saveStep = iota
	stepContentWritten
	stepMetadataUpdated
	stepDone
)

func (s saveStep) String() string {
	switch s {
	case stepPending:
		return "pending"
	case stepContentWritten:
		return "content-written"
	case stepMetadataUpdated:
		return "metadata-updated"
	case stepDone:
		return "done"
	default:
		return fmt.Sprintf("saveStep(%d)", int(s))
	}
}

// saveOperation is one write-then-point mutation. Metadata only moves after
// the content store has acknowledged the commit.
type saveOperation struct {
	scope   Scope
	path    string
	content string
	message string
	author  string
	reason  string

	step     saveStep
	commitID string
	row      store.ScopeConfiguration
}

// execute runs op to completion. The caller's cancellation is detached so an
// aborted request cannot stop a write between the two steps.
func (s *Service) execute(ctx context.Context, op *saveOperation) (ConfigurationRecord, error) {
	ctx = context.WithoutCancel(ctx)
	for op.step != stepDone {
		if err := s.advance(ctx, op); err != nil {
			return ConfigurationRecord{}, err
		}
	}
	return ConfigurationRecord{
		Content:   op.content,
		CommitID:  op.commitID,
		UpdatedAt: op.row.UpdatedAt,
	}, nil
}

func (s *Service) advance(ctx context.Context, op *saveOperation) error {
	path := op.path
	if path == "" {
		path = op.scope.ContentPath()
	}
	switch op.step {
	case stepPending:
		commitID, err := s.content.WriteContent(ctx, path, op.content, op.author, op.message)
		if err != nil {
			return contentError(fmt.Sprintf("write %s", op.scope), err)
		}
		op.commitID = commitID
		op.step = stepContentWritten

	case stepContentWritten:
		row, err := s.store.UpsertScopeConfiguration(ctx, string(op.scope.Level), op.scope.OwnerID, path, op.commitID)
		if err != nil {
			log.Printf("app: orphaned commit %s at %s: metadata for %s not updated: %v", op.commitID, path, op.scope, err)
			return fmt.Errorf("point %s at %s: %w", op.scope, op.commitID, err)
		}
		op.row = row
		op.step = stepMetadataUpdated

	case stepMetadataUpdated:
		s.publish(ctx, events.ConfigurationUpdated{
			Level:       string(op.scope.Level),
			OwnerID:     op.scope.OwnerID,
			ContentPath: path,
			CommitID:    op.commitID,
			Author:      op.author,
			Reason:      op.reason,
			OccurredAt:  time.Now().UTC(),
		})
		op.step = stepDone

	default:
		return fmt.Errorf("save %s: unexpected step %s", op.scope, op.step)
	}
	return nil
}
