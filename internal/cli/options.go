package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/horde-bridge/internal/health"
	"github.com/ChuLiYu/horde-bridge/internal/queue"
	"github.com/ChuLiYu/horde-bridge/internal/worker"
)

// Options is the complete bridge configuration. Every field has a long flag;
// config-file keys use the same names.
type Options struct {
	ClusterURL        string
	WorkerName        string
	APIKey            string
	ServerURL         string
	Engine            string
	Model             string
	Ctx               int
	MaxLength         int
	Threads           int
	PriorityUsernames []string

	Timeout          time.Duration
	GenerateTimeout  time.Duration
	RetryInterval    time.Duration
	ClaimRetries     int
	GenerateRetries  int
	SubmitRetries    int
	FailureThreshold int
	HealthTTL        time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string
	ConfigFile  string
}

const (
	defaultClusterURL      = "https://stablehorde.net"
	defaultAPIKey          = "0000000000"
	defaultServerURL       = "http://localhost:8000"
	defaultEngine          = "vllm"
	defaultThreads         = 2
	defaultGenerateTimeout = 10 * time.Minute
	workerNamePrefix       = "Automated Instance #"
)

var (
	errMissingModel = errors.New("--model is required")
	errMissingCtx   = errors.New("--ctx must be a positive context length")
)

// bindFlags registers every option on fs.
func bindFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringVar(&o.ClusterURL, "cluster-url", defaultClusterURL, "queue service base URL")
	fs.StringVar(&o.WorkerName, "worker-name", "", "worker name announced to the queue (default \"Automated Instance #<random>\")")
	fs.StringVar(&o.APIKey, "api-key", defaultAPIKey, "queue service API key")
	fs.StringVar(&o.ServerURL, "server-url", defaultServerURL, "inference server base URL")
	fs.StringVar(&o.Engine, "engine", defaultEngine, "inference engine: vllm, sglang, koboldcpp, llamacpp, tabbyapi")
	fs.StringVar(&o.Model, "model", "", "model name served by the inference server (required)")
	fs.IntVar(&o.Ctx, "ctx", 0, "maximum context length in tokens (required)")
	fs.IntVar(&o.MaxLength, "max-length", 0, "maximum generation length in tokens (default ctx/2)")
	fs.IntVar(&o.Threads, "threads", defaultThreads, "concurrent worker loops")
	fs.StringSliceVar(&o.PriorityUsernames, "priority-usernames", nil, "usernames whose jobs are served first")

	fs.DurationVar(&o.Timeout, "timeout", queue.DefaultTimeout, "timeout for queue and health calls")
	fs.DurationVar(&o.GenerateTimeout, "generate-timeout", 0, "timeout for one generation request (0 = 10m)")
	fs.DurationVar(&o.RetryInterval, "retry-interval", worker.DefaultRetryInterval, "wait between retries")
	fs.IntVar(&o.ClaimRetries, "claim-retries", worker.DefaultClaimRetries, "claim attempts per iteration")
	fs.IntVar(&o.GenerateRetries, "generate-retries", worker.DefaultGenerateRetries, "generation attempts per job")
	fs.IntVar(&o.SubmitRetries, "submit-retries", worker.DefaultSubmitRetries, "submit attempts per job")
	fs.IntVar(&o.FailureThreshold, "failure-threshold", worker.DefaultFailureThreshold, "consecutive failed iterations before the worker stops")
	fs.DurationVar(&o.HealthTTL, "health-ttl", health.DefaultTTL, "how long a health probe result is cached")

	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "listen address for /metrics and the ops API (empty = disabled)")
	fs.StringVar(&o.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&o.LogFormat, "log-format", "text", "log format: text, json")
	fs.StringVarP(&o.ConfigFile, "config", "c", "", "YAML or JSON config file; keys are long flag names")
}

// applyConfigFile sets every flag named in the config file at path, unless the
// flag was given on the command line.
func applyConfigFile(fs *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		flag := fs.Lookup(key)
		if flag == nil || key == "config" {
			return fmt.Errorf("config file %s: unknown key %q", path, key)
		}
		if flag.Changed {
			continue
		}
		raw, err := flagValue(flag.Value.Type(), values[key])
		if err != nil {
			return fmt.Errorf("config file %s: key %q: %w", path, key, err)
		}
		if err := fs.Set(key, raw); err != nil {
			return fmt.Errorf("config file %s: key %q: %w", path, key, err)
		}
	}
	return nil
}

// flagValue renders a decoded config value the way it would be typed on the
// command line. Bare numbers for duration flags are seconds.
func flagValue(flagType string, v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", errors.New("value is null")
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		if flagType == "duration" {
			return (time.Duration(val) * time.Second).String(), nil
		}
		return strconv.Itoa(val), nil
	case float64:
		if flagType == "duration" {
			return time.Duration(val * float64(time.Second)).String(), nil
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, err := flagValue("", item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// finalize fills derived defaults and validates the bridge options.
func (o *Options) finalize() error {
	if o.Model == "" {
		return errMissingModel
	}
	if o.Ctx <= 0 {
		return errMissingCtx
	}
	if o.MaxLength <= 0 {
		o.MaxLength = o.Ctx / 2
	}
	if o.WorkerName == "" {
		o.WorkerName = workerNamePrefix + uuid.NewString()[:8]
	}
	if o.Threads < 1 {
		return fmt.Errorf("--threads must be at least 1, got %d", o.Threads)
	}
	if o.GenerateTimeout <= 0 {
		o.GenerateTimeout = defaultGenerateTimeout
	}
	return nil
}

// advertisedModel is the model name announced to the queue.
func (o *Options) advertisedModel() string {
	return o.Engine + "/" + o.Model
}
