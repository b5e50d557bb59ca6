// Package assistant ties the brain store, the open conversation and the
// generation pipeline together into the operations a front end needs.
package assistant

import (
	"context"
	"strings"
	"sync"

	"github.com/go-go-golems/pocketbrain/pkg/brain/applog"
	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/go-go-golems/pocketbrain/pkg/helpers"
	"github.com/go-go-golems/pocketbrain/pkg/inference/pipeline"
	"github.com/go-go-golems/pocketbrain/pkg/inference/state"
	"github.com/go-go-golems/pocketbrain/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed              = errors.New("assistant is closed")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrNothingToAnswer     = errors.New("no user message to answer")
	ErrToolsUnavailable    = errors.New("tools are not configured")
	ErrMissingCollaborator = errors.New("missing collaborator")
)

// Deps are the collaborators of a Service. Store, Index, Chat and Pipeline
// are required.
type Deps struct {
	Store    *store.Store
	Index    *conversation.Index
	Chat     *conversation.Chat
	Pipeline *pipeline.Pipeline
	Tools    *tools.Orchestrator
	AppLog   *applog.Logger
}

// Service runs at most one generation at a time over the open chat.
type Service struct {
	store    *store.Store
	index    *conversation.Index
	chat     *conversation.Chat
	machine  *state.Machine
	pipeline *pipeline.Pipeline
	tools    *tools.Orchestrator
	applog   *applog.Logger
	logger   zerolog.Logger

	mu     sync.Mutex
	active *ExecutionHandle
	closed bool
	wg     sync.WaitGroup
}

// New builds the service and opens a system log session. A corrupt brain
// file that was reset during Store.Open is recorded in that session.
func New(ctx context.Context, deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.Wrap(ErrMissingCollaborator, "store")
	case deps.Index == nil:
		return nil, errors.Wrap(ErrMissingCollaborator, "index")
	case deps.Chat == nil:
		return nil, errors.Wrap(ErrMissingCollaborator, "chat")
	case deps.Pipeline == nil:
		return nil, errors.Wrap(ErrMissingCollaborator, "pipeline")
	}

	s := &Service{
		store:    deps.Store,
		index:    deps.Index,
		chat:     deps.Chat,
		machine:  deps.Pipeline.Machine(),
		pipeline: deps.Pipeline,
		tools:    deps.Tools,
		applog:   deps.AppLog,
		logger:   log.With().Str("component", "assistant").Logger(),
	}

	if s.applog != nil {
		if _, err := s.applog.StartSession(ctx, "Assistant session"); err != nil {
			s.logger.Warn().Err(err).Msg("Could not start log session")
		}
		if r := deps.Store.Recovery(); r != nil {
			s.journal(ctx, applog.LevelError, "Brain file was corrupt and has been reset", map[string]string{
				"backupPath": r.BackupPath,
				"error":      r.Cause.Error(),
			})
		}
	}
	return s, nil
}

func (s *Service) Chat() *conversation.Chat {
	return s.chat
}

func (s *Service) Machine() *state.Machine {
	return s.machine
}

func (s *Service) Tools() *tools.Orchestrator {
	return s.tools
}

func (s *Service) State() state.State {
	return s.machine.Current()
}

// Active returns the running generation, if any.
func (s *Service) Active() *ExecutionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.IsRunning() {
		return s.active
	}
	return nil
}

// SendMessage appends text as a user message and starts answering it. A
// generation already running is stopped first. With a tool selected, the
// reply is a tool-role message.
func (s *Service) SendMessage(ctx context.Context, text string) (*ExecutionHandle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.stopActive()

	history := s.chat.Messages()
	user := conversation.NewMessage(conversation.RoleUser, text)
	reply := s.newReply()
	s.chat.Append(user, reply)

	return s.start(ctx, pipeline.Input{
		MessageID: reply.ID,
		Role:      reply.Role,
		Prompt:    text,
		History:   history,
	})
}

// Regenerate drops the answer identified by messageID, and everything after
// it, and answers the preceding user message again. messageID may also be
// the user message itself.
func (s *Service) Regenerate(ctx context.Context, messageID string) (*ExecutionHandle, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.stopActive()

	messages := s.chat.Messages()
	at := -1
	for i, m := range messages {
		if m.ID == messageID {
			at = i
			break
		}
	}
	if at < 0 {
		return nil, errors.Wrapf(conversation.ErrMessageNotFound, "%q", messageID)
	}
	userAt := -1
	for i := at; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			userAt = i
			break
		}
	}
	if userAt < 0 {
		return nil, ErrNothingToAnswer
	}

	user := messages[userAt]
	s.chat.TruncateAfter(user.ID)
	reply := s.newReply()
	s.chat.Append(reply)

	return s.start(ctx, pipeline.Input{
		MessageID:  reply.ID,
		Role:       reply.Role,
		Prompt:     user.Text,
		History:    messages[:userAt],
		Regenerate: true,
	})
}

func (s *Service) newReply() *conversation.Message {
	if s.tools != nil {
		if selected := s.tools.Selected(); selected != "" {
			plugin := ""
			if def, err := s.tools.Registry().GetTool(selected); err == nil {
				plugin = def.Plugin
			}
			return conversation.NewMessage(conversation.RoleTool, "", conversation.WithTool(&conversation.RunningTool{
				PluginName: plugin,
				ToolName:   selected,
			}))
		}
	}
	return conversation.NewMessage(conversation.RoleAssistant, "")
}

// start launches the pipeline for in. The chat is saved once the run has
// finished, whatever its outcome.
func (s *Service) start(ctx context.Context, in pipeline.Input) (*ExecutionHandle, error) {
	runID := helpers.NewCorrelationID()
	runCtx, cancel := context.WithCancel(helpers.ContextWithCorrelationID(ctx, runID))
	if err := s.machine.StartRun(cancel); err != nil {
		cancel()
		return nil, err
	}

	in.ChatID = s.chat.ID()
	in.Messages = s.chat
	handle := newExecutionHandle(in.ChatID, in.MessageID, runID, cancel)

	s.mu.Lock()
	s.active = handle
	s.mu.Unlock()

	s.logger.Debug().Str("run_id", runID).Str("message_id", in.MessageID).Bool("regenerate", in.Regenerate).Msg("Starting generation")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		out := s.pipeline.Run(runCtx, in)
		s.machine.FinishRun()

		saveErr := s.save(context.WithoutCancel(runCtx))

		s.mu.Lock()
		if s.active == handle {
			s.active = nil
		}
		s.mu.Unlock()
		handle.complete(out, saveErr)
	}()

	return handle, nil
}

func (s *Service) save(ctx context.Context) error {
	// an Error state stays visible; titling only shows up from Idle
	if s.chat.EnsureTitle() && s.machine.Current().Kind == state.KindIdle {
		if err := s.machine.Set(state.GeneratingTitle()); err == nil {
			defer func() {
				_ = s.machine.Set(state.Idle())
			}()
		}
	}
	if err := s.chat.Save(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Could not save chat")
		s.journal(ctx, applog.LevelError, "Failed to save chat", map[string]string{"error": err.Error()})
		return errors.Wrap(err, "could not save chat")
	}
	return nil
}

// Stop cancels the running generation and waits for it to finalize.
func (s *Service) Stop() error {
	h := s.Active()
	if h == nil {
		return state.ErrInferenceNotRunning
	}
	h.Cancel()
	_, _ = h.Wait()
	return nil
}

func (s *Service) stopActive() {
	if err := s.Stop(); err == nil {
		s.logger.Debug().Msg("Stopped previous generation")
	}
}

// NewChat stops any generation and starts an empty, unsaved chat.
func (s *Service) NewChat() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.stopActive()
	s.chat.Reset()
	return nil
}

func (s *Service) LoadChat(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.stopActive()
	if err := s.chat.Load(ctx, id); err != nil {
		return errors.Wrapf(err, "could not load chat %s", id)
	}
	return nil
}

// DeleteChat removes a stored chat. Deleting the open chat stops its
// generation and resets it.
func (s *Service) DeleteChat(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if id == s.chat.ID() {
		s.stopActive()
	}
	found, err := s.chat.Delete(ctx, id)
	if err != nil {
		return false, errors.Wrapf(err, "could not delete chat %s", id)
	}
	if found {
		s.journal(ctx, applog.LevelInfo, "Chat deleted", map[string]string{"chatId": id})
	}
	return found, nil
}

func (s *Service) ListChats(ctx context.Context) ([]conversation.Summary, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.index.List(ctx)
}

// DeleteMessage removes a message from the open chat and persists the chat.
// Removing the last message deletes the stored chat.
func (s *Service) DeleteMessage(ctx context.Context, id string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	if h := s.Active(); h != nil && h.MessageID == id {
		s.stopActive()
	}
	if !s.chat.DeleteMessage(id) {
		return false, nil
	}

	chatID := s.chat.ID()
	if s.chat.Len() == 0 && chatID != "" {
		if _, err := s.chat.Delete(ctx, chatID); err != nil {
			return true, errors.Wrap(err, "could not delete emptied chat")
		}
		return true, nil
	}
	if chatID == "" {
		return true, nil
	}
	return true, s.save(ctx)
}

func (s *Service) SelectTool(name string) error {
	if s.tools == nil {
		return ErrToolsUnavailable
	}
	return s.tools.SelectTool(name)
}

func (s *Service) ClearTool() {
	if s.tools != nil {
		s.tools.ClearTool()
	}
}

// Close stops the running generation, ends the log session and closes the
// store. The service is unusable afterwards.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stopActive()
	s.wg.Wait()

	if s.applog != nil {
		if err := s.applog.EndSession(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Could not end log session")
		}
	}
	return s.store.Close()
}

func (s *Service) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Service) journal(ctx context.Context, level applog.Level, message string, details map[string]string) {
	if s.applog == nil {
		return
	}
	if err := s.applog.Log(ctx, level, message, details); err != nil {
		s.logger.Warn().Err(err).Str("entry", message).Msg("Could not write system log")
	}
}
