package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/pocketbrain/pkg/assistant"
	"github.com/go-go-golems/pocketbrain/pkg/brain/applog"
	"github.com/go-go-golems/pocketbrain/pkg/brain/memory"
	"github.com/go-go-golems/pocketbrain/pkg/brain/securecodec"
	"github.com/go-go-golems/pocketbrain/pkg/brain/store"
	"github.com/go-go-golems/pocketbrain/pkg/config"
	"github.com/go-go-golems/pocketbrain/pkg/conversation"
	"github.com/go-go-golems/pocketbrain/pkg/events"
	"github.com/go-go-golems/pocketbrain/pkg/inference/engine/factory"
	"github.com/go-go-golems/pocketbrain/pkg/inference/pipeline"
	"github.com/go-go-golems/pocketbrain/pkg/inference/state"
	"github.com/go-go-golems/pocketbrain/pkg/inference/tools"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// brain is an opened brain file with the managers built on top of it.
type brain struct {
	store  *store.Store
	index  *conversation.Index
	memory *memory.Manager
	logs   *applog.Logger
}

func openBrain(ctx context.Context, s *config.Settings) (*brain, error) {
	keys, err := securecodec.NewKeyStore(s.Brain.Keystore, s.KeyStoreOptions())
	if err != nil {
		return nil, err
	}
	key, err := keys.GetOrCreateKey(s.Brain.KeyAlias)
	if err != nil {
		return nil, errors.Wrap(err, "could not get brain key")
	}
	policy, err := store.ParseCorruptPolicy(s.Store.CorruptPolicy)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(s.Brain.File), 0o700); err != nil {
		return nil, errors.Wrap(err, "could not create brain directory")
	}
	st := store.New(s.Brain.File, key, store.WithCorruptPolicy(policy))
	if err := st.Open(ctx); err != nil {
		return nil, err
	}
	log.Debug().Str("path", st.Path()).Object("key", key).Msg("Opened brain file")

	return &brain{
		store:  st,
		index:  conversation.NewIndex(st),
		memory: memory.New(st),
		logs:   applog.New(st, applog.WithMaxSessions(s.Logs.MaxSessions)),
	}, nil
}

func (b *brain) Close() error {
	return b.store.Close()
}

func newToolOrchestrator(s *config.Settings, mem *memory.Manager) (*tools.Orchestrator, error) {
	registry := tools.NewInMemoryToolRegistry()
	if err := tools.RegisterBuiltins(registry, mem, time.Now); err != nil {
		return nil, err
	}
	return tools.NewOrchestrator(registry, tools.WithConfig(s.ToolConfig())), nil
}

// app is everything the chat command needs. Generation events are
// published on the router; the terminal printer subscribes to them.
type app struct {
	brain     *brain
	router    *events.EventRouter
	assistant *assistant.Service
}

func openApp(ctx context.Context, s *config.Settings, verbose bool) (*app, error) {
	b, err := openBrain(ctx, s)
	if err != nil {
		return nil, err
	}
	ret, err := buildApp(ctx, s, b, verbose)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return ret, nil
}

func buildApp(ctx context.Context, s *config.Settings, b *brain, verbose bool) (*app, error) {
	eng, err := factory.NewEngine(factory.Settings{
		Kind:    s.Engine.Kind,
		Model:   s.Engine.Model,
		BaseURL: s.Engine.BaseURL,
		APIKey:  s.Engine.APIKey,
	})
	if err != nil {
		return nil, err
	}

	orchestrator, err := newToolOrchestrator(s, b.memory)
	if err != nil {
		return nil, err
	}

	prompts, err := pipeline.NewPromptBuilder(
		pipeline.WithTokenizer(s.Generation.Tokenizer),
		pipeline.WithMaxHistoryTokens(s.Generation.MaxHistoryTokens),
	)
	if err != nil {
		return nil, err
	}

	var routerOptions []events.EventRouterOption
	if verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return nil, err
	}
	sink := router.Sink(events.TopicChat)

	p, err := pipeline.New(eng, state.NewMachine(sink),
		pipeline.WithSink(sink),
		pipeline.WithTools(orchestrator),
		pipeline.WithJournal(b.logs),
		pipeline.WithBatchInterval(s.Generation.BatchInterval),
		pipeline.WithModelName(s.Engine.Model),
		pipeline.WithPromptBuilder(prompts),
	)
	if err != nil {
		_ = router.Close()
		return nil, err
	}

	svc, err := assistant.New(ctx, assistant.Deps{
		Store:    b.store,
		Index:    b.index,
		Chat:     conversation.NewChat(b.index),
		Pipeline: p,
		Tools:    orchestrator,
		AppLog:   b.logs,
	})
	if err != nil {
		_ = router.Close()
		return nil, err
	}
	return &app{brain: b, router: router, assistant: svc}, nil
}

func (a *app) Close(ctx context.Context) error {
	err := a.assistant.Close(ctx)
	if cerr := a.router.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
