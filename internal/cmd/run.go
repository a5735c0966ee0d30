// Package cmd wires configuration into the running voice proxy: hosted clients, the
// memory store, the assistant, the speech pipelines and the HTTP server.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/VoiceProxyAPI/internal/api"
	"github.com/router-for-me/VoiceProxyAPI/internal/api/handlers"
	"github.com/router-for-me/VoiceProxyAPI/internal/assistant"
	"github.com/router-for-me/VoiceProxyAPI/internal/config"
	"github.com/router-for-me/VoiceProxyAPI/internal/embeddings"
	"github.com/router-for-me/VoiceProxyAPI/internal/memory"
	"github.com/router-for-me/VoiceProxyAPI/internal/metrics"
	"github.com/router-for-me/VoiceProxyAPI/internal/stt"
	"github.com/router-for-me/VoiceProxyAPI/internal/tts"
	"github.com/router-for-me/VoiceProxyAPI/internal/upstream"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

// Services are the long-lived objects behind the HTTP routes. A nil field means the
// service could not be configured; its routes answer 503.
type Services struct {
	Assistant   *assistant.Assistant
	Memory      *memory.Store
	Transcriber *stt.Adapter
	Speech      *tts.Pipeline

	speechDefaults tts.Options
}

type clientSet struct {
	cfg     *config.Config
	clients map[string]*upstream.Client
	errs    map[string]error
}

func (cs *clientSet) get(provider string) (*upstream.Client, error) {
	if c, ok := cs.clients[provider]; ok {
		return c, nil
	}
	if err, ok := cs.errs[provider]; ok {
		return nil, err
	}
	c, err := upstream.New(provider, cs.cfg)
	if err != nil {
		cs.errs[provider] = err
		return nil, err
	}
	cs.clients[provider] = c
	return c, nil
}

// BuildServices creates every service cfg describes. Services whose provider lacks
// credentials are left nil and logged; an error is returned only when none can run.
func BuildServices(cfg *config.Config) (*Services, error) {
	cs := &clientSet{cfg: cfg, clients: map[string]*upstream.Client{}, errs: map[string]error{}}
	s := &Services{speechDefaults: tts.Options{
		Voice: cfg.Speech.Voice,
		Speed: cfg.Speech.Speed,
		Model: cfg.Speech.Model,
	}}

	var embedder memory.Embedder
	switch cfg.Memory.EmbeddingProvider {
	case config.ProviderOllama:
		embedder = embeddings.NewOllamaClient(cfg.Memory.OllamaURL, cfg.Memory.EmbeddingModel, time.Duration(cfg.RequestTimeoutSeconds)*time.Second)
	default:
		if c, err := cs.get(cfg.Memory.EmbeddingProvider); err != nil {
			log.WithError(err).Warn("memory disabled: embedding provider is not configured")
		} else {
			embedder = c.Embedder(cfg.Memory.EmbeddingModel)
		}
	}
	if embedder != nil {
		s.Memory = memory.NewStore(embedder, cfg.Memory.EmbeddingModel)
		s.Memory.OnAppend = metrics.SetMemoryEvents
	}

	if c, err := cs.get(cfg.Chat.Provider); err != nil {
		log.WithError(err).Warn("chat disabled: provider is not configured")
	} else {
		var mem assistant.Memory
		if s.Memory != nil {
			mem = s.Memory
		}
		s.Assistant = assistant.New(c.ChatCompleter(), mem,
			assistant.WithIdentity(cfg.Assistant.Name, cfg.Assistant.Instructions),
			assistant.WithModel(cfg.Assistant.Model),
			assistant.WithTopK(cfg.Assistant.MemoryTopK),
			assistant.WithWriteTimeout(time.Duration(cfg.Memory.WriteTimeoutSeconds)*time.Second),
		)
	}

	if c, err := cs.get(cfg.Transcription.Provider); err != nil {
		log.WithError(err).Warn("speech-to-text disabled: provider is not configured")
	} else {
		s.Transcriber = stt.NewAdapter(c, stt.Defaults{
			Model:       cfg.Transcription.Model,
			Temperature: *cfg.Transcription.Temperature,
			Prompt:      *cfg.Transcription.Prompt,
			Examples:    cfg.Transcription.Examples,
			Normalize:   cfg.Transcription.Normalize,
		})
	}

	if c, err := cs.get(cfg.Speech.Provider); err != nil {
		log.WithError(err).Warn("text-to-speech disabled: provider is not configured")
	} else {
		s.Speech = tts.NewPipeline(c,
			tts.WithMaxChars(cfg.Speech.MaxChars),
			tts.WithConcurrency(cfg.Speech.Concurrency),
		)
	}

	if s.Assistant == nil && s.Transcriber == nil && s.Speech == nil {
		var errs []error
		for _, err := range cs.errs {
			errs = append(errs, err)
		}
		return nil, fmt.Errorf("no hosted service is configured: %w", errors.Join(errs...))
	}
	return s, nil
}

// Deps returns the handler dependencies.
func (s *Services) Deps() handlers.Deps {
	return handlers.Deps{
		Assistant:      s.Assistant,
		Transcriber:    s.Transcriber,
		Speech:         s.Speech,
		Memory:         s.Memory,
		SpeechDefaults: s.speechDefaults,
	}
}

// Apply pushes the hot-reloadable assistant settings from cfg.
func (s *Services) Apply(cfg *config.Config) {
	if s.Assistant == nil || cfg == nil {
		return
	}
	s.Assistant.SetIdentity(cfg.Assistant.Name, cfg.Assistant.Instructions)
	s.Assistant.SetModel(cfg.Assistant.Model)
	log.WithField("name", cfg.Assistant.Name).Info("assistant identity reloaded")
}

// Flush waits for background work such as pending memory writes.
func (s *Services) Flush() {
	if s.Assistant != nil {
		s.Assistant.Flush()
	}
}

// StartService runs the HTTP server until ctx is cancelled, reloading configPath on change.
func StartService(ctx context.Context, cfg *config.Config, configPath string) error {
	services, err := BuildServices(cfg)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg, services.Deps())

	if configPath != "" {
		watcher, errWatch := config.NewWatcher(configPath, func(next *config.Config) {
			server.UpdateConfig(next)
			services.Apply(next)
		})
		if errWatch != nil {
			log.WithError(errWatch).Warn("config hot reload disabled")
		} else {
			defer func() { _ = watcher.Close() }()
			go watcher.Run(ctx)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err = <-errCh:
		services.Flush()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = server.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
	services.Flush()
	return err
}
