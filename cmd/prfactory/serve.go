package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"

	server "github.com/mikaelliljedahl/prfactory/internal"
	"github.com/mikaelliljedahl/prfactory/internal/agent"
	"github.com/mikaelliljedahl/prfactory/internal/checkpoint"
	checkpointrepo "github.com/mikaelliljedahl/prfactory/internal/checkpoint/repositoryimpl"
	"github.com/mikaelliljedahl/prfactory/internal/config"
	"github.com/mikaelliljedahl/prfactory/internal/event"
	"github.com/mikaelliljedahl/prfactory/internal/eventbus"
	"github.com/mikaelliljedahl/prfactory/internal/notifier"
	"github.com/mikaelliljedahl/prfactory/internal/pipeline"
	"github.com/mikaelliljedahl/prfactory/internal/pushnotification"
	pushsubrepo "github.com/mikaelliljedahl/prfactory/internal/pushsubscription/repositoryimpl"
	"github.com/mikaelliljedahl/prfactory/internal/recovery"
	"github.com/mikaelliljedahl/prfactory/internal/ticket"
	ticketrepo "github.com/mikaelliljedahl/prfactory/internal/ticket/repositoryimpl"
	"github.com/mikaelliljedahl/prfactory/pkg/storage"
)

func newStorage(ctx context.Context, env *config.Env) (storage.Storage, error) {
	switch env.StorageEnv.Type {
	case "s3":
		store, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("create local storage: %w", err)
		}
		return store, nil
	}
}

func newCheckpointRepository(env *config.Env, store storage.Storage) (checkpoint.Repository, func(), error) {
	switch env.CheckpointStore {
	case "memory":
		return checkpointrepo.NewMemoryRepository(), func() {}, nil
	case "sqlite":
		repo, err := checkpointrepo.NewSQLiteRepository(env.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite checkpoint store: %w", err)
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				slog.Warn("failed to close checkpoint store", "error", err)
			}
		}, nil
	default:
		return checkpointrepo.NewYAMLRepository(store), func() {}, nil
	}
}

func newSweeper(env *config.Env, repo checkpoint.Repository) *checkpoint.Sweeper {
	return checkpoint.NewSweeper(repo, env.CheckpointRetention, env.CheckpointSweepInterval)
}

func serve(env *config.Env) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store, err := newStorage(ctx, env)
	if err != nil {
		return err
	}
	checkpoints, closeCheckpoints, err := newCheckpointRepository(env, store)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	bus := eventbus.New()
	tickets := ticketrepo.NewYAMLRepository(store)
	pushSubs := pushsubrepo.NewYAMLRepository(store)
	transitions := ticket.DefaultTransitions()

	registry := agent.NewRegistry(transitions)
	if err := registry.Load(env.AgentsFile); err != nil {
		return fmt.Errorf("load agents: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	classifier := recovery.NewClassifier()
	p := pipeline.New(env.PipelineOptions(), pipeline.Dependencies{
		Agents:      registry,
		Classifier:  classifier,
		Checkpoints: checkpoints,
		Publisher:   bus,
		Metrics:     pipeline.NewMetrics(reg),
	})

	n, err := notifier.New(&env.NotifierEnv)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	runner := pipeline.NewRunner(p, pipeline.RunnerDependencies{
		Tickets:     tickets,
		Transitions: transitions,
		Bindings:    registry,
		Planner:     recovery.NewPlanner(classifier),
		Notifier:    n,
		Publisher:   bus,
	}, pipeline.RunnerOptions{AutoRetry: env.AutoRetry})

	vapidEnv := config.VAPIDEnvFromEnv(env)
	pushSender := pushnotification.NewSender(vapidEnv, pushSubs)
	pushDispatcher := pushnotification.NewDispatcher(bus, tickets, pushSender)

	srv := server.NewServer(
		config.BaseEnvFromEnv(env),
		reg,
		ticket.NewServer(tickets, ticket.ServerDependencies{
			Transitions: transitions,
			Checkpoints: checkpoints,
			Publisher:   bus,
			Runner:      runner,
			RunContext:  ctx,
		}),
		checkpoint.NewServer(checkpoints),
		event.NewServer(bus),
		pushnotification.NewServer(vapidEnv, pushSubs, pushSender),
	)

	var forwarder *event.Forwarder
	if env.NATSURL != "" {
		conn, err := event.Connect(env.NATSURL, "prfactory")
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		forwarder = event.NewForwarder(bus, conn, env.NATSSubjectPrefix)
	}

	var wg conc.WaitGroup
	wg.Go(func() { pushDispatcher.Start(ctx) })
	wg.Go(func() { newSweeper(env, checkpoints).Run(ctx) })
	if env.WatchAgents {
		wg.Go(func() {
			if err := registry.Watch(ctx); err != nil {
				slog.Error("agents watcher stopped", "error", err)
			}
		})
	}
	if forwarder != nil {
		wg.Go(func() { forwarder.Start(ctx) })
	}

	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	runner.Wait()
	wg.Wait()
	return nil
}

func checkConfig(env *config.Env) error {
	f, err := agent.LoadFile(env.AgentsFile, ticket.DefaultTransitions())
	if err != nil {
		return err
	}
	slog.Info("configuration is valid",
		"agents_file", env.AgentsFile,
		"agents", len(f.Agents),
		"bindings", len(f.Bindings),
		"storage", env.StorageEnv.Type,
		"checkpoint_store", env.CheckpointStore,
		"notifier", env.NotifierEnv.Type,
	)
	return nil
}
