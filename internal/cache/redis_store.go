// Package cache provides a Redis read-through cache in front of a content store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"strconv"
	"sync"
	"time"

	"atlas/api/internal/contentstore"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultContentTTL = 24 * time.Hour
	DefaultHistoryTTL = time.Minute
)

// errStaleFill aborts a cache fill that raced a write to the same path.
var errStaleFill = errors.New("path written during fill")

// Store wraps a contentstore.Store. Content at a commit is immutable and cached
// for ContentTTL; latest content and history pages are cached for HistoryTTL
// and dropped on every write to the same path. Redis failures are logged and
// the call falls through to the wrapped store.
//
// Every write bumps a per-path generation in the same transaction that drops
// the path's entries. A fill only lands if the generation it read before
// asking the wrapped store is still current.
type Store struct {
	next       contentstore.Store
	client     *redis.Client
	prefix     string
	contentTTL time.Duration
	historyTTL time.Duration

	// stale holds paths whose invalidation failed. Their cached entries are
	// bypassed until a retry succeeds.
	staleMu sync.Mutex
	stale   map[string]struct{}
}

var _ contentstore.Store = (*Store)(nil)

type cachedRecord struct {
	CommitID  string    `json:"commit_id"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRedisStore connects to redisURL and wraps next.
func NewRedisStore(next contentstore.Store, redisURL string, historyTTL time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(next, client, historyTTL), nil
}

func NewRedisStoreWithClient(next contentstore.Store, client *redis.Client, historyTTL time.Duration) *Store {
	if historyTTL <= 0 {
		historyTTL = DefaultHistoryTTL
	}
	return &Store{
		next:       next,
		client:     client,
		prefix:     "atlas:content:",
		contentTTL: DefaultContentTTL,
		historyTTL: historyTTL,
		stale:      make(map[string]struct{}),
	}
}

// Unwrap returns the wrapped store.
func (s *Store) Unwrap() contentstore.Store {
	return s.next
}

func (s *Store) commitKey(path, commitID string) string {
	return s.prefix + "commit:" + path + "@" + commitID
}

func (s *Store) latestKey(path string) string {
	return s.prefix + "latest:" + path
}

func (s *Store) historyKey(path string) string {
	return s.prefix + "history:" + path
}

func (s *Store) generationKey(path string) string {
	return s.prefix + "gen:" + path
}

func (s *Store) WriteContent(ctx context.Context, path, content, author, message string) (string, error) {
	commitID, err := s.next.WriteContent(ctx, path, content, author, message)
	if err != nil {
		return "", err
	}
	if err := s.invalidate(ctx, path); err != nil {
		log.Printf("cache: invalidate %s: %v", path, err)
		s.markStale(path)
	}
	if err := s.client.Set(ctx, s.commitKey(path, commitID), content, s.contentTTL).Err(); err != nil {
		log.Printf("cache: prime %s@%s: %v", path, commitID, err)
	}
	return commitID, nil
}

func (s *Store) ReadContent(ctx context.Context, path, commitID string) (string, error) {
	key := s.commitKey(path, commitID)
	cached, err := s.client.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("cache: get %s: %v", key, err)
	}

	content, err := s.next.ReadContent(ctx, path, commitID)
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, key, content, s.contentTTL).Err(); err != nil {
		log.Printf("cache: set %s: %v", key, err)
	}
	return content, nil
}

func (s *Store) ReadLatest(ctx context.Context, path string) (string, error) {
	if !s.usable(ctx, path) {
		return s.next.ReadLatest(ctx, path)
	}
	key := s.latestKey(path)
	cached, err := s.client.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("cache: get %s: %v", key, err)
	}

	gen, genErr := s.generation(ctx, s.client, path)
	content, err := s.next.ReadLatest(ctx, path)
	if err != nil {
		return "", err
	}
	if genErr == nil {
		s.fill(ctx, path, gen, func(pipe redis.Pipeliner) {
			pipe.Set(ctx, key, content, s.historyTTL)
		})
	}
	return content, nil
}

// ListHistory serves a page from the per-path history hash when present.
// On a miss the wrapped sequence is drained once, stored, then replayed.
func (s *Store) ListHistory(ctx context.Context, path string, limit int) iter.Seq2[contentstore.CommitRecord, error] {
	limit = contentstore.ClampLimit(limit)
	return contentstore.Once(func(yield func(contentstore.CommitRecord, error) bool) {
		if !s.usable(ctx, path) {
			for record, err := range s.next.ListHistory(ctx, path, limit) {
				if !yield(record, err) || err != nil {
					return
				}
			}
			return
		}
		records, ok := s.cachedHistory(ctx, path, limit)
		if !ok {
			gen, genErr := s.generation(ctx, s.client, path)
			var err error
			records, err = contentstore.Collect(s.next.ListHistory(ctx, path, limit))
			if err != nil {
				yield(contentstore.CommitRecord{}, err)
				return
			}
			if genErr == nil {
				s.storeHistory(ctx, path, gen, limit, records)
			}
		}
		for _, record := range records {
			if !yield(record, nil) {
				return
			}
		}
	})
}

func (s *Store) cachedHistory(ctx context.Context, path string, limit int) ([]contentstore.CommitRecord, bool) {
	raw, err := s.client.HGet(ctx, s.historyKey(path), strconv.Itoa(limit)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("cache: history %s: %v", path, err)
		}
		return nil, false
	}
	var items []cachedRecord
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		log.Printf("cache: decode history %s: %v", path, err)
		return nil, false
	}
	records := make([]contentstore.CommitRecord, 0, len(items))
	for _, item := range items {
		records = append(records, contentstore.CommitRecord{
			CommitID:    item.CommitID,
			Message:     item.Message,
			Author:      item.Author,
			Timestamp:   item.Timestamp,
			ContentPath: path,
		})
	}
	return records, true
}

func (s *Store) storeHistory(ctx context.Context, path string, gen int64, limit int, records []contentstore.CommitRecord) {
	items := make([]cachedRecord, 0, len(records))
	for _, record := range records {
		items = append(items, cachedRecord{
			CommitID:  record.CommitID,
			Message:   record.Message,
			Author:    record.Author,
			Timestamp: record.Timestamp,
		})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		log.Printf("cache: encode history %s: %v", path, err)
		return
	}
	key := s.historyKey(path)
	s.fill(ctx, path, gen, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, key, strconv.Itoa(limit), payload)
		pipe.Expire(ctx, key, s.historyTTL)
	})
}

// fill runs write in a transaction watching the path's generation. It is a
// no-op when a write to path landed after gen was read.
func (s *Store) fill(ctx context.Context, path string, gen int64, write func(redis.Pipeliner)) {
	genKey := s.generationKey(path)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := s.generation(ctx, tx, path)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil, errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
	default:
		log.Printf("cache: fill %s: %v", path, err)
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) generation(ctx context.Context, cmd getter, path string) (int64, error) {
	gen, err := cmd.Get(ctx, s.generationKey(path)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// invalidate bumps the path's generation and drops its latest and history
// entries in one transaction.
func (s *Store) invalidate(ctx context.Context, path string) error {
	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, s.generationKey(path))
	pipe.Del(ctx, s.latestKey(path), s.historyKey(path))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) markStale(path string) {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	s.stale[path] = struct{}{}
}

// usable reports whether cached latest and history entries for path may be
// served. A path with a failed invalidation is retried first.
func (s *Store) usable(ctx context.Context, path string) bool {
	s.staleMu.Lock()
	defer s.staleMu.Unlock()
	if _, ok := s.stale[path]; !ok {
		return true
	}
	if err := s.invalidate(ctx, path); err != nil {
		return false
	}
	delete(s.stale, path)
	return true
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
