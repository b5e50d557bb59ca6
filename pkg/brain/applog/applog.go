// Package applog keeps system log sessions inside the brain tree, under the
// systemLogs holder, and mirrors every entry to zerolog.
package applog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/go-go-golems/pocketbrain/pkg/brain/tree"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"

	DefaultSessionName = "Default Session"
)

type Entry struct {
	Timestamp int64             `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

type Session struct {
	ID          string  `json:"-"`
	SessionName string  `json:"sessionName"`
	StartTime   int64   `json:"startTime"`
	Logs        []Entry `json:"logs"`
	EndTime     *int64  `json:"endTime,omitempty"`
}

type Logger struct {
	backend     store.Backend
	enabled     bool
	maxSessions int
	now         func() time.Time
	logger      zerolog.Logger
}

type Option func(*Logger)

func WithEnabled(enabled bool) Option {
	return func(l *Logger) {
		l.enabled = enabled
	}
}

// WithMaxSessions prunes the oldest sessions when a new one would exceed n.
// Zero keeps everything.
func WithMaxSessions(n int) Option {
	return func(l *Logger) {
		l.maxSessions = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

func New(backend store.Backend, options ...Option) *Logger {
	ret := &Logger{
		backend: backend,
		enabled: true,
		now:     time.Now,
		logger:  log.With().Str("component", "applog").Logger(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func logsHolder(t *tree.Tree) (*tree.Node, error) {
	n := t.FindByID(store.IDSystemLogs)
	if n == nil {
		return nil, errors.Wrap(tree.ErrNotFound, store.IDSystemLogs)
	}
	return n, nil
}

func decodeSession(n *tree.Node) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(n.Content), &s); err != nil {
		return nil, errors.Wrapf(err, "log session %s", n.ID)
	}
	s.ID = n.ID
	return &s, nil
}

func encodeSession(n *tree.Node, s *Session) error {
	if s.Logs == nil {
		s.Logs = []Entry{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	n.Content = string(b)
	return nil
}

// StartSession appends a new session and returns its node id.
func (l *Logger) StartSession(ctx context.Context, name string) (string, error) {
	if !l.enabled {
		return "", nil
	}
	id := uuid.NewString()
	err := l.backend.Update(ctx, func(t *tree.Tree) error {
		return l.startSession(t, id, name)
	})
	if err != nil {
		return "", errors.Wrap(err, "could not start log session")
	}
	l.logger.Debug().Str("session", name).Msg("Started log session")
	return id, nil
}

func (l *Logger) startSession(t *tree.Tree, id string, name string) error {
	holder, err := logsHolder(t)
	if err != nil {
		return err
	}
	n := tree.NewNode(id, tree.KindHolder, "")
	if err := encodeSession(n, &Session{SessionName: name, StartTime: l.now().UnixMilli()}); err != nil {
		return err
	}
	holder.Append(n)

	if l.maxSessions > 0 && len(holder.Children) > l.maxSessions {
		holder.Children = holder.Children[len(holder.Children)-l.maxSessions:]
	}
	return nil
}

// Log appends an entry to the current (last) session, starting a default
// session when none exists.
func (l *Logger) Log(ctx context.Context, level Level, message string, details map[string]string) error {
	l.mirror(level, message, details)
	if !l.enabled {
		return nil
	}

	entry := Entry{
		Timestamp: l.now().UnixMilli(),
		Level:     level,
		Message:   message,
		Details:   details,
	}
	err := l.backend.Update(ctx, func(t *tree.Tree) error {
		holder, err := logsHolder(t)
		if err != nil {
			return err
		}
		if len(holder.Children) == 0 {
			if err := l.startSession(t, uuid.NewString(), DefaultSessionName); err != nil {
				return err
			}
		}
		current := holder.Children[len(holder.Children)-1]
		s, err := decodeSession(current)
		if err != nil {
			return err
		}
		s.Logs = append(s.Logs, entry)
		return encodeSession(current, s)
	})
	return errors.Wrap(err, "could not write log entry")
}

func (l *Logger) Info(ctx context.Context, message string, details map[string]string) error {
	return l.Log(ctx, LevelInfo, message, details)
}

func (l *Logger) Warn(ctx context.Context, message string, details map[string]string) error {
	return l.Log(ctx, LevelWarn, message, details)
}

func (l *Logger) Error(ctx context.Context, message string, details map[string]string) error {
	return l.Log(ctx, LevelError, message, details)
}

func (l *Logger) mirror(level Level, message string, details map[string]string) {
	var ev *zerolog.Event
	switch level {
	case LevelWarn:
		ev = l.logger.Warn()
	case LevelError:
		ev = l.logger.Error()
	default:
		ev = l.logger.Info()
	}
	for k, v := range details {
		ev = ev.Str(k, v)
	}
	ev.Msg(message)
}

// Measure runs fn and logs its duration, or its failure.
func (l *Logger) Measure(ctx context.Context, name string, fn func() error) error {
	start := l.now()
	err := fn()
	if err != nil {
		_ = l.Error(ctx, name+" failed", map[string]string{"error": err.Error()})
		return err
	}
	d := l.now().Sub(start)
	return l.Info(ctx, name+" completed", map[string]string{"duration": d.String()})
}

// EndSession stamps the end time of the current session.
func (l *Logger) EndSession(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	err := l.backend.Update(ctx, func(t *tree.Tree) error {
		holder, err := logsHolder(t)
		if err != nil {
			return err
		}
		if len(holder.Children) == 0 {
			return nil
		}
		current := holder.Children[len(holder.Children)-1]
		s, err := decodeSession(current)
		if err != nil {
			return err
		}
		end := l.now().UnixMilli()
		s.EndTime = &end
		return encodeSession(current, s)
	})
	return errors.Wrap(err, "could not end log session")
}

// Sessions returns all sessions, oldest first. Sessions whose content cannot
// be decoded are skipped.
func (l *Logger) Sessions() ([]Session, error) {
	var ret []Session
	err := l.backend.View(func(t *tree.Tree) error {
		holder, err := logsHolder(t)
		if err != nil {
			return err
		}
		for _, n := range holder.Children {
			s, err := decodeSession(n)
			if err != nil {
				l.logger.Warn().Err(err).Msg("Skipping unreadable log session")
				continue
			}
			ret = append(ret, *s)
		}
		return nil
	})
	return ret, err
}

// Clear removes every session.
func (l *Logger) Clear(ctx context.Context) error {
	return l.backend.Update(ctx, func(t *tree.Tree) error {
		holder, err := logsHolder(t)
		if err != nil {
			return err
		}
		holder.Children = nil
		return nil
	})
}
