package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mikaelliljedahl/prfactory/internal/pipeline"
	"github.com/mikaelliljedahl/prfactory/internal/retry"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".prfactory/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"prfactory/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	// CheckpointStore is memory, yaml (on the storage above) or sqlite.
	CheckpointStore string `envconfig:"CHECKPOINT_STORE" default:"yaml"`
	SQLitePath      string `envconfig:"SQLITE_PATH" default:".prfactory/checkpoints.db"`
}

type PipelineEnv struct {
	// Enabled switches agent execution off without stopping the API.
	Enabled                 bool          `envconfig:"ENABLED" default:"true"`
	Timeout                 time.Duration `envconfig:"PIPELINE_TIMEOUT" default:"30m"`
	MaxConcurrentExecutions int64         `envconfig:"MAX_CONCURRENT_EXECUTIONS" default:"4"`
	EnableCheckpoints       bool          `envconfig:"ENABLE_CHECKPOINTS" default:"true"`
	EnableLogging           bool          `envconfig:"ENABLE_LOGGING" default:"true"`
	EnableTelemetry         bool          `envconfig:"ENABLE_TELEMETRY" default:"true"`
	EnableErrorHandling     bool          `envconfig:"ENABLE_ERROR_HANDLING" default:"true"`
	EnableRetry             bool          `envconfig:"ENABLE_RETRY" default:"true"`
	AutoRetry               bool          `envconfig:"AUTO_RETRY" default:"false"`
	AgentsFile              string        `envconfig:"AGENTS_FILE" default:"agents.yaml"`
	WatchAgents             bool          `envconfig:"WATCH_AGENTS" default:"true"`
	CheckpointRetention     time.Duration `envconfig:"CHECKPOINT_RETENTION" default:"168h"`
	CheckpointSweepInterval time.Duration `envconfig:"CHECKPOINT_SWEEP_INTERVAL" default:"1h"`
}

type RetryEnv struct {
	MaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	InitialDelay time.Duration `envconfig:"RETRY_INITIAL_DELAY" default:"2s"`
	MaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"30s"`
	Backoff      string        `envconfig:"RETRY_BACKOFF" default:"exponential"`
	UseJitter    bool          `envconfig:"RETRY_USE_JITTER" default:"true"`
}

type ErrorHandlingEnv struct {
	IncludeStackTrace   bool `envconfig:"ERRORS_INCLUDE_STACK_TRACE" default:"false"`
	Sanitize            bool `envconfig:"ERRORS_SANITIZE" default:"true"`
	RethrowCancellation bool `envconfig:"ERRORS_RETHROW_CANCELLATION" default:"true"`
	RethrowUnhandled    bool `envconfig:"ERRORS_RETHROW_UNHANDLED" default:"false"`
}

type NotifierEnv struct {
	// Type is log, jira, github or gitlab.
	Type          string `envconfig:"NOTIFIER_TYPE" default:"log"`
	JiraBaseURL   string `envconfig:"JIRA_BASE_URL"`
	JiraEmail     string `envconfig:"JIRA_EMAIL"`
	JiraAPIToken  string `envconfig:"JIRA_API_TOKEN"`
	GitHubToken   string `envconfig:"GITHUB_TOKEN"`
	GitHubBaseURL string `envconfig:"GITHUB_BASE_URL"`
	GitLabToken   string `envconfig:"GITLAB_TOKEN"`
	GitLabBaseURL string `envconfig:"GITLAB_BASE_URL"`
}

type EventEnv struct {
	NATSURL           string `envconfig:"NATS_URL"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"prfactory.events"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	StorageEnv
	PipelineEnv
	RetryEnv
	ErrorHandlingEnv
	NotifierEnv
	EventEnv
	VAPIDEnv
}

const namespace = "PRFACTORY"

// ConfigurationError lists every problem found in the environment.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Validate checks the loaded values and returns a *ConfigurationError naming
// every violation.
func (e *Env) Validate() error {
	var p []string
	add := func(format string, args ...any) {
		p = append(p, fmt.Sprintf(format, args...))
	}

	if port, err := strconv.Atoi(e.HTTPPort); err != nil || port <= 0 || port > 65535 {
		add("HTTP_PORT must be a port number, got %q", e.HTTPPort)
	}
	if e.APIKey == "" {
		add("API_KEY is required")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		add("LOG_LEVEL %q is not a log level", e.LogLevel)
	}

	switch e.StorageEnv.Type {
	case "local":
		if e.BaseDir == "" {
			add("STORAGE_BASE_DIR is required for local storage")
		}
	case "s3":
		if e.S3Bucket == "" {
			add("S3_BUCKET is required for s3 storage")
		}
	default:
		add("STORAGE_TYPE must be local or s3, got %q", e.StorageEnv.Type)
	}
	switch e.CheckpointStore {
	case "memory", "yaml":
	case "sqlite":
		if e.SQLitePath == "" {
			add("SQLITE_PATH is required for the sqlite checkpoint store")
		}
	default:
		add("CHECKPOINT_STORE must be memory, yaml or sqlite, got %q", e.CheckpointStore)
	}

	if e.Timeout <= 0 {
		add("PIPELINE_TIMEOUT must be positive")
	}
	if e.MaxConcurrentExecutions <= 0 {
		add("MAX_CONCURRENT_EXECUTIONS must be positive")
	}
	if e.AgentsFile == "" {
		add("AGENTS_FILE is required")
	}
	if e.CheckpointRetention <= 0 {
		add("CHECKPOINT_RETENTION must be positive")
	}
	if e.CheckpointSweepInterval <= 0 {
		add("CHECKPOINT_SWEEP_INTERVAL must be positive")
	}
	if err := e.RetryOptions().Validate(); err != nil {
		add("%s", err.Error())
	}

	switch e.NotifierEnv.Type {
	case "log":
	case "jira":
		if e.JiraBaseURL == "" || e.JiraEmail == "" || e.JiraAPIToken == "" {
			add("JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN are required for the jira notifier")
		}
	case "github":
		if e.GitHubToken == "" {
			add("GITHUB_TOKEN is required for the github notifier")
		}
	case "gitlab":
		if e.GitLabToken == "" {
			add("GITLAB_TOKEN is required for the gitlab notifier")
		}
	default:
		add("NOTIFIER_TYPE must be log, jira, github or gitlab, got %q", e.NotifierEnv.Type)
	}

	if (e.VAPIDPublicKey == "") != (e.VAPIDPrivateKey == "") {
		add("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	if len(p) > 0 {
		return &ConfigurationError{Problems: p}
	}
	return nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (e *Env) RetryOptions() retry.Options {
	return retry.Options{
		MaxRetryAttempts: e.MaxAttempts,
		InitialDelay:     e.InitialDelay,
		MaxDelay:         e.MaxDelay,
		BackoffType:      retry.BackoffType(strings.ToLower(e.Backoff)),
		UseJitter:        e.UseJitter,
	}
}

func (e *Env) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Enabled:                 e.Enabled,
		Timeout:                 e.Timeout,
		MaxConcurrentExecutions: e.MaxConcurrentExecutions,
		EnableCheckpoints:       e.EnableCheckpoints,
		EnableLogging:           e.EnableLogging,
		EnableTelemetry:         e.EnableTelemetry,
		EnableErrorHandling:     e.EnableErrorHandling,
		EnableRetry:             e.EnableRetry,
		Retry:                   e.RetryOptions(),
		ErrorHandling: pipeline.ErrorHandlingOptions{
			IncludeStackTrace:     e.IncludeStackTrace,
			SanitizeErrorMessages: e.Sanitize,
			RethrowCancellation:   e.RethrowCancellation,
			RethrowUnhandled:      e.RethrowUnhandled,
		},
	}
}

func BaseEnvFromEnv(env *Env) *BaseEnv {
	return &env.BaseEnv
}

func StorageEnvFromEnv(env *Env) *StorageEnv {
	return &env.StorageEnv
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
