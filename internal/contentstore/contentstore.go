// Package contentstore defines the contract for commit-addressed content hosts.
//
// Content is opaque text addressed by a path. Every write produces a new,
// immutable commit; history for a path is the host's own commit log.
package contentstore

import (
	"context"
	"errors"
	"iter"
	"time"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
)

var (
	// ErrNotFound is returned when a path or a commit at that path does not exist.
	ErrNotFound = errors.New("content not found")
	// ErrUnavailable wraps transport, auth and rate-limit failures of the host.
	ErrUnavailable = errors.New("content store unavailable")
)

// CommitRecord describes one commit touching a content path.
type CommitRecord struct {
	CommitID    string
	Message     string
	Author      string
	Timestamp   time.Time
	ContentPath string
}

// Store is implemented by every content host adapter.
type Store interface {
	// WriteContent commits content at path and returns the new commit id.
	WriteContent(ctx context.Context, path, content, author, message string) (string, error)
	// ReadContent returns content exactly as committed at commitID.
	ReadContent(ctx context.Context, path, commitID string) (string, error)
	// ReadLatest returns the newest content at path, or "" if path was never written.
	ReadLatest(ctx context.Context, path string) (string, error)
	// ListHistory yields commits for path newest-first, at most ClampLimit(limit) of them.
	// The sequence is single-use; an error, if any, is the last element yielded.
	ListHistory(ctx context.Context, path string, limit int) iter.Seq2[CommitRecord, error]
}

// ClampLimit applies the default and maximum history page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// Collect drains a history sequence into a slice.
func Collect(seq iter.Seq2[CommitRecord, error]) ([]CommitRecord, error) {
	items := make([]CommitRecord, 0)
	for record, err := range seq {
		if err != nil {
			return nil, err
		}
		items = append(items, record)
	}
	return items, nil
}

// Latest returns the newest commit for path, or ErrNotFound if there is none.
func Latest(ctx context.Context, s Store, path string) (CommitRecord, error) {
	for record, err := range s.ListHistory(ctx, path, 1) {
		if err != nil {
			return CommitRecord{}, err
		}
		return record, nil
	}
	return CommitRecord{}, ErrNotFound
}

// Uncached unwraps caching decorators so reads reach the content host.
// Stores that wrap another one expose it through an Unwrap method.
func Uncached(s Store) Store {
	for {
		wrapper, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return s
		}
		s = wrapper.Unwrap()
	}
}

// Once wraps seq so that only the first range over it yields anything.
func Once(seq iter.Seq2[CommitRecord, error]) iter.Seq2[CommitRecord, error] {
	used := false
	return func(yield func(CommitRecord, error) bool) {
		if used {
			return
		}
		used = true
		seq(yield)
	}
}

// Fail returns a sequence that yields err and stops.
func Fail(err error) iter.Seq2[CommitRecord, error] {
	return func(yield func(CommitRecord, error) bool) {
		yield(CommitRecord{}, err)
	}
}
