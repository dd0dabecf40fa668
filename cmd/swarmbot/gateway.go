package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtzanidakis/swarmbot/internal/config"
	"github.com/mtzanidakis/swarmbot/internal/natsbus"
	"github.com/mtzanidakis/swarmbot/internal/registry"
	"github.com/mtzanidakis/swarmbot/internal/router"
	"github.com/mtzanidakis/swarmbot/internal/scheduler"
	"github.com/mtzanidakis/swarmbot/internal/store"
	"github.com/mtzanidakis/swarmbot/internal/swarm"
	"github.com/mtzanidakis/swarmbot/internal/web"
	"github.com/mtzanidakis/swarmbot/internal/workers"
)

const shutdownTimeout = 30 * time.Second

func runGateway(parent context.Context, cfg *config.Config, reload func() (*config.Config, error)) error {
	slog.Info("starting swarmbot gateway", "version", version)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	var (
		bus       *natsbus.Bus
		client    *natsbus.Client
		publisher router.Publisher
	)
	if cfg.NATS.Enabled {
		bus, err = natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()

		client, err = natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()
		publisher = client
		slog.Info("nats started", "url", bus.ClientURL())
	} else {
		slog.Warn("nats disabled, events are not published")
	}

	// Message router
	rtr := router.New(cfg.Bus)
	rtr.SetPublisher(publisher)
	if cfg.Bus.Archive {
		rtr.SetStore(db)
	}

	// Agent registry
	reg := registry.New(rtr, db, cfg.Agent)
	reg.SetPublisher(publisher)
	if err := workers.Register(reg); err != nil {
		return err
	}
	if err := reg.LoadTemplates(cfg.Templates); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	agents, err := reg.Spawn(ctx, cfg.Agents)
	if err != nil {
		return fmt.Errorf("spawn agents: %w", err)
	}
	slog.Info("agents spawned", "count", len(agents))

	// Swarm coordinator
	coord := swarm.New(swarm.Deps{
		Config:     cfg.Swarm,
		Registry:   reg,
		Router:     rtr,
		Store:      db,
		Publisher:  publisher,
		Collectors: swarm.DefaultCollectors(),
	})
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := coord.Stop(stopCtx); err != nil {
			slog.Error("coordinator shutdown failed", "error", err)
		}
	}()

	if client != nil {
		go func() {
			if err := coord.Serve(ctx, client); err != nil {
				slog.Error("nats request handler failed", "error", err)
			}
		}()
	}

	// Scheduler
	sched := scheduler.New(db, coord, publisher, cfg.Scheduler)
	if err := sched.Sync(cfg.Schedules); err != nil {
		return fmt.Errorf("sync schedules: %w", err)
	}
	go sched.Start(ctx)

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, reg, rtr, coord, sched, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	current := cfg
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigCh:
			if sig != syscall.SIGHUP {
				slog.Info("shutting down", "signal", sig)
				return nil
			}
			next, err := reload()
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			if err := applyReload(current, next, reg, coord, sched); err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			setupLogging(next.Log)
			current = next
		}
	}
}

type reloadTarget interface {
	PutTemplate(registry.Template)
	RemoveTemplate(name string) bool
}

type swarmTarget interface {
	UpdateConfig(config.SwarmConfig)
}

type schedulerTarget interface {
	Sync(map[string]config.ScheduleConfig) error
	UpdateConfig(config.SchedulerConfig)
}

// applyReload pushes the reloadable differences between old and next into
// the running components. Templates are validated before anything changes.
func applyReload(old, next *config.Config, reg reloadTarget, coord swarmTarget, sched schedulerTarget) error {
	diff := config.Diff(old, next)
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !diff.HasChanges() {
		slog.Info("config reloaded, no changes")
		return nil
	}

	updated := make([]registry.Template, 0, len(diff.TemplatesAdded)+len(diff.TemplatesChanged))
	for _, name := range append(diff.TemplatesAdded, diff.TemplatesChanged...) {
		t, err := registry.TemplateFromConfig(name, next.Templates[name])
		if err != nil {
			return err
		}
		updated = append(updated, t)
	}
	for _, t := range updated {
		reg.PutTemplate(t)
	}

	defaults := make(map[string]registry.Template)
	for _, t := range registry.DefaultTemplates() {
		defaults[t.Name] = t
	}
	for _, name := range diff.TemplatesRemoved {
		// A removed override falls back to the built-in template.
		if t, ok := defaults[name]; ok {
			reg.PutTemplate(t)
			continue
		}
		reg.RemoveTemplate(name)
	}

	if diff.SwarmChanged {
		coord.UpdateConfig(diff.NewSwarm)
	}
	if diff.SchedulerChanged {
		sched.UpdateConfig(diff.NewScheduler)
	}
	if diff.SchedulesChanged {
		if err := sched.Sync(diff.NewSchedules); err != nil {
			return fmt.Errorf("sync schedules: %w", err)
		}
	}

	slog.Info("config reloaded",
		"templates_added", len(diff.TemplatesAdded),
		"templates_changed", len(diff.TemplatesChanged),
		"templates_removed", len(diff.TemplatesRemoved),
		"swarm", diff.SwarmChanged,
		"schedules", diff.SchedulesChanged,
	)
	return nil
}
