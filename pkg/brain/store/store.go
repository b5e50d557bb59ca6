package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CorruptPolicy decides what Open does with a brain file that exists but
// cannot be authenticated or decoded.
type CorruptPolicy string

const (
	// CorruptFail leaves the file untouched and returns the error.
	CorruptFail CorruptPolicy = "fail"
	// CorruptBackupAndReset moves the file aside and starts a fresh tree.
	CorruptBackupAndReset CorruptPolicy = "backup-and-reset"
)

func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch CorruptPolicy(s) {
	case "", CorruptFail:
		return CorruptFail, nil
	case CorruptBackupAndReset:
		return CorruptBackupAndReset, nil
	default:
		return "", errors.Errorf("unknown corrupt policy %q (expected fail or backup-and-reset)", s)
	}
}

// Recovery describes a reset performed by CorruptBackupAndReset.
type Recovery struct {
	BackupPath string
	Cause      error
	At         time.Time
}

// Store owns the brain tree of one brain file. Every mutation runs under a
// single lock as mutate, persist, reload, so the in-memory tree always
// matches the file.
type Store struct {
	path   string
	codec  securecodec.Codec
	policy CorruptPolicy
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	tree     *tree.Tree
	opened   bool
	closed   bool
	recovery *Recovery
}

type Option func(*Store)

func WithCorruptPolicy(p CorruptPolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(path string, codec securecodec.Codec, options ...Option) *Store {
	ret := &Store{
		path:   path,
		codec:  codec,
		policy: CorruptFail,
		now:    time.Now,
		logger: log.With().Str("component", "brainstore").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *Store) Path() string {
	return s.path
}

// Recovery returns the reset performed during Open, if any.
func (s *Store) Recovery() *Recovery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recovery
}

// Open loads the brain file, creating it on first use, and migrates it.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, err := Load(s.path, s.codec)
	switch {
	case err != nil && IsCorrupt(err):
		t, err = s.handleCorrupt(err)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	case t == nil:
		s.logger.Info().Str("path", s.path).Msg("No brain file found, creating a fresh one")
		t = tree.NewEmpty()
	}

	if Migrate(t) {
		s.logger.Debug().Str("path", s.path).Msg("Migrated brain tree")
		if err := s.persistAndReload(t); err != nil {
			return err
		}
	} else {
		s.tree = t
	}
	s.opened = true
	return nil
}

func (s *Store) handleCorrupt(cause error) (*tree.Tree, error) {
	s.logger.Error().Err(cause).Str("path", s.path).Str("policy", string(s.policy)).Msg("Brain file is corrupt")

	if s.policy != CorruptBackupAndReset {
		return nil, errors.Wrapf(cause, "brain file %s is corrupt; refusing to continue", s.path)
	}

	now := s.now()
	backup := fmt.Sprintf("%s.corrupt-%d", s.path, now.Unix())
	if err := os.Rename(s.path, backup); err != nil {
		return nil, errors.Wrap(err, "could not back up corrupt brain file")
	}
	s.logger.Warn().Str("backup", backup).Msg("Corrupt brain file moved aside, starting fresh")
	s.recovery = &Recovery{BackupPath: backup, Cause: cause, At: now}
	return tree.NewEmpty(), nil
}

// View runs fn with read access to the tree. fn must not retain nodes.
func (s *Store) View(fn func(t *tree.Tree) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkUsable(); err != nil {
		return err
	}
	return fn(s.tree)
}

// Update runs fn on a copy of the tree, persists the copy and reloads it from
// disk. If fn or the save fails, the current tree is unchanged.
func (s *Store) Update(ctx context.Context, fn func(t *tree.Tree) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUsable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.tree.Clone()
	if err := fn(work); err != nil {
		return err
	}
	return s.persistAndReload(work)
}

func (s *Store) persistAndReload(t *tree.Tree) error {
	if err := Save(t, s.path, s.codec); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Could not save brain file")
		return err
	}
	reloaded, err := Load(s.path, s.codec)
	if err != nil {
		return errors.Wrap(err, "could not reload brain file after save")
	}
	if reloaded == nil {
		return errors.Wrap(ErrNotFound, "brain file vanished after save")
	}
	s.tree = reloaded
	return nil
}

// Snapshot returns a deep copy of the current tree.
func (s *Store) Snapshot() (*tree.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	return s.tree.Clone(), nil
}

func (s *Store) checkUsable() error {
	if s.closed {
		return ErrClosed
	}
	if !s.opened && s.tree == nil {
		return ErrNotOpen
	}
	return nil
}

// Close releases the tree. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tree = nil
	return nil
}

// Backend is the part of Store used by subsystems that keep their data in
// the brain tree.
type Backend interface {
	View(fn func(t *tree.Tree) error) error
	Update(ctx context.Context, fn func(t *tree.Tree) error) error
}

var _ Backend = (*Store)(nil)
