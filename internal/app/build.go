package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/aaronjnichols/puter/internal/agent"
	"github.com/aaronjnichols/puter/internal/config"
	"github.com/aaronjnichols/puter/internal/engine"
	"github.com/aaronjnichols/puter/internal/history"
	"github.com/aaronjnichols/puter/internal/httpapi"
	"github.com/aaronjnichols/puter/internal/observability"
	"github.com/aaronjnichols/puter/internal/output"
	"github.com/aaronjnichols/puter/internal/project"
	"github.com/aaronjnichols/puter/internal/schedule"
	"github.com/aaronjnichols/puter/internal/session"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Engine   *engine.Engine
	Projects *project.Registry
	Sessions *session.Manager
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources
	// (scheduler loop, history store).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	projects, err := project.Open(cfg.ProjectsFile)
	if err != nil {
		return nil, fmt.Errorf("project registry init failed: %w", err)
	}
	if err := projects.Watch(ctx); err != nil {
		// Manual edits to the projects file then need a restart; everything
		// else keeps working.
		log.Printf("[app] project file watch disabled: %v", err)
	}

	sessions, err := session.NewManager(cfg.SessionsDir)
	if err != nil {
		return nil, fmt.Errorf("session manager init failed: %w", err)
	}

	outputs, err := output.NewProcessor(cfg.OutputsDir)
	if err != nil {
		return nil, fmt.Errorf("output processor init failed: %w", err)
	}

	runner, err := agent.NewRunner(cfg.AgentMode, cfg.AgentBin)
	if err != nil {
		return nil, fmt.Errorf("agent runner init failed: %w", err)
	}

	store, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}
	historyMode := "memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		historyMode = "postgres"
	}

	sched := schedule.NewScheduler(schedule.NewStore(cfg.ScheduleFile), cfg.ScheduleTick)

	eng := engine.New(engine.Config{
		ExecTimeout:      cfg.ExecTimeout,
		ApprovalTimeout:  cfg.ApprovalTimeout,
		QueueIdleTimeout: cfg.QueueIdleTimeout,
	}, engine.Deps{
		Projects:  projects,
		Sessions:  sessions,
		Output:    outputs,
		Runner:    runner,
		Scheduler: sched,
		History:   store,
		Metrics:   metrics,
	})

	hub := httpapi.NewHub(eng, metrics, cfg.AllowAnyOrigin)
	eng.SetNotifier(hub)

	api := httpapi.New(httpapi.Params{
		Config:      cfg,
		Engine:      eng,
		Projects:    projects,
		Metrics:     metrics,
		Hub:         hub,
		OutputsDir:  cfg.OutputsDir,
		HistoryMode: historyMode,
	})

	sched.Start(ctx, eng.HandleDue)

	cleanup := func() error {
		var errs []string
		sched.Stop()
		if err := projects.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Engine:   eng,
		Projects: projects,
		Sessions: sessions,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
