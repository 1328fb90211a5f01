package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/mikaelliljedahl/prfactory/internal/config"
	"github.com/mikaelliljedahl/prfactory/internal/recovery"
	"github.com/mikaelliljedahl/prfactory/pkg/clog"
)

var (
	app = kingpin.New("prfactory", "Drives tickets from trigger to pull request through configurable agents")

	serveCmd = app.Command("serve", "Start the workflow server").Default()

	configCmd      = app.Command("config", "Configuration commands")
	configCheckCmd = configCmd.Command("check", "Validate the environment and the agents file")

	checkpointsCmd      = app.Command("checkpoints", "Checkpoint maintenance")
	checkpointsSweepCmd = checkpointsCmd.Command("sweep", "Expire and delete checkpoints older than the retention window")

	classifyCmd        = app.Command("classify", "Classify an error message and print the recovery decision")
	classifyMessage    = classifyCmd.Arg("message", "Error message").Required().String()
	classifyDetails    = classifyCmd.Flag("details", "Additional error details").String()
	classifyRetryCount = classifyCmd.Flag("retry-count", "Retries already spent on the ticket").Default("0").Int()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == classifyCmd.FullCommand() {
		if err := classify(os.Stdout, *classifyMessage, *classifyDetails, *classifyRetryCount); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env: %v\n", err)
		os.Exit(1)
	}
	setupLogger(env)

	switch command {
	case serveCmd.FullCommand():
		err = serve(env)
	case configCheckCmd.FullCommand():
		err = checkConfig(env)
	case checkpointsSweepCmd.FullCommand():
		err = sweepCheckpoints(env)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

type classifyOutput struct {
	Analysis recovery.Analysis `json:"analysis"`
	Action   recovery.Action   `json:"action"`
}

func classify(w io.Writer, message, details string, retryCount int) error {
	planner := recovery.NewPlanner(recovery.NewClassifier())
	analysis, action := planner.Analyze(message, details, retryCount)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(classifyOutput{Analysis: analysis, Action: action})
}

func sweepCheckpoints(env *config.Env) error {
	ctx := context.Background()
	store, err := newStorage(ctx, env)
	if err != nil {
		return err
	}
	repo, closeRepo, err := newCheckpointRepository(env, store)
	if err != nil {
		return err
	}
	defer closeRepo()

	res, err := newSweeper(env, repo).Sweep(ctx)
	if err != nil {
		return err
	}
	slog.Info("checkpoint sweep finished", "expired", res.Expired, "deleted", res.Deleted)
	return nil
}
