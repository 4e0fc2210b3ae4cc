package contentstore

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"
)

// minPrefixLen is the shortest abbreviated commit id ReadContent resolves.
const minPrefixLen = 4

type memoryCommit struct {
	record  CommitRecord
	content string
}

// Memory is an in-process Store. It keeps full per-path history and is used
// by tests and by the "memory" backend for local development.
type Memory struct {
	mu      sync.Mutex
	seq     int
	commits map[string][]memoryCommit // path -> oldest-first
	now     func() time.Time

	// FailWrites makes WriteContent fail with ErrUnavailable.
	FailWrites bool
	// FailReads makes every read fail with ErrUnavailable.
	FailReads bool
}

func NewMemory() *Memory {
	return &Memory{
		commits: make(map[string][]memoryCommit),
		now:     time.Now,
	}
}

// SetClock replaces the timestamp source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) WriteContent(_ context.Context, path, content, author, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return "", fmt.Errorf("write %s: %w", path, ErrUnavailable)
	}
	m.seq++
	commitID := fmt.Sprintf("%040x", m.seq)
	m.commits[path] = append(m.commits[path], memoryCommit{
		record: CommitRecord{
			CommitID:    commitID,
			Message:     message,
			Author:      author,
			Timestamp:   m.now(),
			ContentPath: path,
		},
		content: content,
	})
	return commitID, nil
}

func (m *Memory) ReadContent(_ context.Context, path, commitID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads {
		return "", fmt.Errorf("read %s: %w", path, ErrUnavailable)
	}
	commitID = strings.ToLower(commitID)
	var (
		match   string
		matches int
	)
	for _, commit := range m.commits[path] {
		id := commit.record.CommitID
		if id == commitID {
			return commit.content, nil
		}
		if len(commitID) >= minPrefixLen && strings.HasPrefix(id, commitID) {
			match = commit.content
			matches++
		}
	}
	if matches == 1 {
		return match, nil
	}
	return "", fmt.Errorf("commit %s at %s: %w", commitID, path, ErrNotFound)
}

func (m *Memory) ReadLatest(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReads {
		return "", fmt.Errorf("read %s: %w", path, ErrUnavailable)
	}
	commits := m.commits[path]
	if len(commits) == 0 {
		return "", nil
	}
	return commits[len(commits)-1].content, nil
}

func (m *Memory) ListHistory(_ context.Context, path string, limit int) iter.Seq2[CommitRecord, error] {
	limit = ClampLimit(limit)
	return Once(func(yield func(CommitRecord, error) bool) {
		m.mu.Lock()
		if m.FailReads {
			m.mu.Unlock()
			yield(CommitRecord{}, fmt.Errorf("history %s: %w", path, ErrUnavailable))
			return
		}
		commits := m.commits[path]
		records := make([]CommitRecord, 0, min(limit, len(commits)))
		for i := len(commits) - 1; i >= 0 && len(records) < limit; i-- {
			records = append(records, commits[i].record)
		}
		m.mu.Unlock()

		for _, record := range records {
			if !yield(record, nil) {
				return
			}
		}
	})
}

// CommitCount returns the number of commits recorded for path.
func (m *Memory) CommitCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.commits[path])
}
