package cli

import (
	"context"
	"fmt"
	"log/slog"

	"chant/internal/actions"
	"chant/internal/cache"
	"chant/internal/config"
	"chant/internal/dispatcher"
	"chant/internal/engine"
	"chant/internal/intent"
	"chant/internal/llm_client"
	"chant/internal/logger"
	"chant/internal/page"
	"chant/internal/planner"
	"chant/internal/registry"
)

// app is everything one command needs, wired from config.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	reg      *registry.Registry
	page     *page.Page
	repo     cache.Repository
	cache    *cache.Service
	provider llm_client.Provider
	engine   *engine.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Log
	a := &app{cfg: cfg, log: log, reg: registry.New()}

	var err error
	a.page, err = page.Open(cfg.PagePath)
	if err != nil {
		return nil, err
	}
	a.page.SetLocation(cfg.Route)

	a.repo, err = cache.Open(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.cache = cache.NewService(a.repo, a.reg, log)

	a.provider, err = llm_client.New(llm_client.Config{
		Backend:    cfg.LLM.Backend,
		Model:      cfg.LLM.Model,
		OllamaHost: cfg.LLM.OllamaHost,
		APIKey:     cfg.LLM.APIKey,
	})
	if err != nil {
		log.Warn("Language model unavailable; only trigger phrases and cached steps will work.", "error", err)
		a.provider = nil
	}
	model := ""
	if a.provider != nil {
		model = a.provider.AllowedModelOrDefault(cfg.LLM.Model)
	}

	catalog, err := registry.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	builtins := actions.New(a.page, a.provider, model)
	if err := catalog.RegisterWith(a.reg, builtins.Resolve); err != nil {
		a.Close()
		return nil, fmt.Errorf("register catalog: %w", err)
	}
	a.reg.SetCurrentRoute(cfg.Route)

	bound := a.page.BindCatalog(a.reg)
	log.Info("Page bound.", "page", cfg.PagePath, "handles", bound, "route", cfg.Route)
	a.page.On("navigate", func(ev page.Event) {
		a.reg.SetCurrentRoute(ev.Value)
		log.Info("Page navigated; route updated.", "route", ev.Value)
	})

	resolvers := intent.Chain{intent.NewSubstringResolver(a.reg)}
	if a.provider != nil {
		resolvers = append(resolvers, intent.NewModelResolver(a.provider, a.reg, model, log))
	}
	gen := planner.New(a.reg, a.cache, a.provider, model, log)
	disp := dispatcher.New(a.reg, a.page, log, dispatcher.Options{
		StepDelay:             cfg.Engine.StepDelay(),
		ReadyTimeout:          cfg.Engine.ReadyTimeout(),
		SkipFieldsFilledLater: cfg.Engine.SkipFieldsFilledLater,
	})
	a.engine = engine.New(a.reg, resolvers, gen, disp, a.cache, log, engine.Options{
		InformationalTimeout: cfg.Engine.InformationalTimeout(),
		QueueSize:            cfg.Engine.QueueSize,
	})
	return a, nil
}

func (a *app) Close() {
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.log.Warn("Closing cache failed.", "error", err)
		}
	}
}
