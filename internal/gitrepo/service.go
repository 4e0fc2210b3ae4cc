package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"atlas/api/internal/contentstore"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Service is a contentstore.Store backed by local git repositories, one per
// content path. The repository for "users/u1/claude.md" lives in
// baseDir/users/u1/claude.md and tracks a single file named claude.md.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

var _ contentstore.Store = (*Service)(nil)

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (s *Service) WriteContent(_ context.Context, contentPath, content, author, message string) (string, error) {
	if err := validatePath(contentPath); err != nil {
		return "", err
	}

	lock := s.pathLock(contentPath)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(contentPath)
	if err != nil {
		return "", unavailable(err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", unavailable(fmt.Errorf("open worktree: %w", err))
	}

	name := path.Base(contentPath)
	fullPath := filepath.Join(worktree.Filesystem.Root(), name)
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return "", unavailable(fmt.Errorf("write %s: %w", contentPath, err))
	}
	if _, err := worktree.Add(name); err != nil {
		return "", unavailable(fmt.Errorf("git add %s: %w", contentPath, err))
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.atlas.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return "", unavailable(fmt.Errorf("commit %s: %w", contentPath, err))
	}
	return hash.String(), nil
}

func (s *Service) ReadContent(_ context.Context, contentPath, commitID string) (string, error) {
	if err := validatePath(contentPath); err != nil {
		return "", err
	}
	commitID = strings.TrimSpace(commitID)
	if !isCommitID(commitID) {
		return "", fmt.Errorf("commit %q: %w", commitID, contentstore.ErrNotFound)
	}

	lock := s.pathLock(contentPath)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(contentPath)
	if err != nil {
		return "", err
	}
	resolvedHash, err := resolveHash(repo, commitID)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return "", fmt.Errorf("commit %s at %s: %w", commitID, contentPath, contentstore.ErrNotFound)
		}
		return "", unavailable(fmt.Errorf("read commit %s: %w", commitID, err))
	}
	return readContentFromCommit(commitObj, path.Base(contentPath))
}

func (s *Service) ReadLatest(ctx context.Context, contentPath string) (string, error) {
	latest, err := contentstore.Latest(ctx, s, contentPath)
	if errors.Is(err, contentstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.ReadContent(ctx, contentPath, latest.CommitID)
}

// ListHistory reads at most limit commits from the path's repository under
// its lock, then yields them.
func (s *Service) ListHistory(ctx context.Context, contentPath string, limit int) iter.Seq2[contentstore.CommitRecord, error] {
	limit = contentstore.ClampLimit(limit)
	if err := validatePath(contentPath); err != nil {
		return contentstore.Fail(err)
	}
	return contentstore.Once(func(yield func(contentstore.CommitRecord, error) bool) {
		records, err := s.history(ctx, contentPath, limit)
		if err != nil {
			yield(contentstore.CommitRecord{}, err)
			return
		}
		for _, record := range records {
			if !yield(record, nil) {
				return
			}
		}
	})
}

func (s *Service) history(ctx context.Context, contentPath string, limit int) ([]contentstore.CommitRecord, error) {
	lock := s.pathLock(contentPath)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(contentPath)
	if errors.Is(err, contentstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("resolve HEAD: %w", err))
	}
	commits, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, unavailable(fmt.Errorf("read log: %w", err))
	}
	defer commits.Close()

	records := make([]contentstore.CommitRecord, 0, limit)
	err = commits.ForEach(func(commitObj *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		records = append(records, toCommitRecord(commitObj, contentPath))
		if len(records) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable(fmt.Errorf("iterate log: %w", err))
	}
	return records, nil
}

func (s *Service) repoPath(contentPath string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(contentPath))
}

func (s *Service) pathLock(contentPath string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[contentPath]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[contentPath] = lock
	return lock
}

func (s *Service) open(contentPath string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(contentPath))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%s: %w", contentPath, contentstore.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(fmt.Errorf("open repo %s: %w", contentPath, err))
	}
	return repo, nil
}

func (s *Service) openOrInit(contentPath string) (*git.Repository, error) {
	dir := s.repoPath(contentPath)
	repo, err := git.PlainOpen(dir)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo %s: %w", contentPath, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func readContentFromCommit(commitObj *object.Commit, name string) (string, error) {
	file, err := commitObj.File(name)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return "", fmt.Errorf("%s at %s: %w", name, commitObj.Hash, contentstore.ErrNotFound)
		}
		return "", unavailable(fmt.Errorf("load %s from commit: %w", name, err))
	}
	reader, err := file.Reader()
	if err != nil {
		return "", unavailable(fmt.Errorf("open content reader: %w", err))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", unavailable(fmt.Errorf("read content bytes: %w", err))
	}
	return string(data), nil
}

func toCommitRecord(commitObj *object.Commit, contentPath string) contentstore.CommitRecord {
	return contentstore.CommitRecord{
		CommitID:    commitObj.Hash.String(),
		Message:     strings.TrimRight(commitObj.Message, "\n"),
		Author:      commitObj.Author.Name,
		Timestamp:   commitObj.Author.When,
		ContentPath: contentPath,
	}
}

func validatePath(contentPath string) error {
	clean := path.Clean(contentPath)
	if contentPath == "" || clean != contentPath || strings.HasPrefix(contentPath, "/") ||
		clean == "." || strings.HasPrefix(clean, "../") || clean == ".." || strings.Contains(contentPath, "\\") {
		return fmt.Errorf("invalid content path %q", contentPath)
	}
	for _, part := range strings.Split(contentPath, "/") {
		if part == ".git" {
			return fmt.Errorf("invalid content path %q", contentPath)
		}
	}
	return nil
}

func sanitizeEmail(input string) string {
	runes := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			runes = append(runes, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			runes = append(runes, '.')
		}
	}
	if len(runes) == 0 {
		return "user"
	}
	return string(runes)
}

// isCommitID accepts 4 to 40 hex digits. Ref names such as HEAD or main are
// not commit ids.
func isCommitID(value string) bool {
	if len(value) < 4 || len(value) > 40 {
		return false
	}
	for _, r := range value {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(strings.ToLower(hash)), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(strings.ToLower(hash)))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, contentstore.ErrNotFound)
	}
	return *resolved, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", contentstore.ErrUnavailable, err)
}
