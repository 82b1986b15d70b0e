package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/runtime/schema"

	queuev1alpha1 "github.com/llm-d/llm-d-queue-autoscaler/api/v1alpha1"
	"github.com/llm-d/llm-d-queue-autoscaler/internal/interfaces"
)

// ErrConfigInvalid marks startup configuration that the process must refuse to run with.
var ErrConfigInvalid = errors.New("invalid configuration")

// Resource source variants.
const (
	SourceWatch = "watch"
	SourcePoll  = "poll"
)

// Reconnect backoff variants.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Config is the process configuration. Every field can be set by flag or by the
// environment variable named after the flag (upper case, dashes as underscores).
type Config struct {
	// Source selects between watching QueueAutoscaler resources and polling a single static target.
	Source string `mapstructure:"source"`
	// Mode selects managing (patch only) or owning (create, patch and delete) the consumer Deployment.
	Mode string `mapstructure:"mode"`
	// Policy is the scaling policy: proportional or incremental.
	Policy string `mapstructure:"policy"`
	// MetricSource selects how queue depth is read: amqp, management or redis.
	MetricSource string `mapstructure:"metric-source"`

	CRDGroup   string `mapstructure:"crd-group"`
	CRDVersion string `mapstructure:"crd-version"`
	CRDPlural  string `mapstructure:"crd-plural"`
	// Namespace restricts the watch and names the target namespace. Empty watches cluster-wide.
	Namespace        string `mapstructure:"namespace"`
	TargetDeployment string `mapstructure:"target-deployment"`

	MinReplicas int32 `mapstructure:"min-replicas"`
	MaxReplicas int32 `mapstructure:"max-replicas"`
	Threshold   int32 `mapstructure:"threshold"`

	QueueHost       string `mapstructure:"queue-host"`
	QueueName       string `mapstructure:"queue-name"`
	QueueUser       string `mapstructure:"queue-user"`
	QueuePassword   string `mapstructure:"queue-password"`
	ManagementVHost string `mapstructure:"management-vhost"`
	RedisDB         int    `mapstructure:"redis-db"`

	CheckInterval    time.Duration `mapstructure:"check-interval"`
	ResyncInterval   time.Duration `mapstructure:"resync-interval"`
	ReconnectDelay   time.Duration `mapstructure:"reconnect-delay"`
	ReconnectBackoff string        `mapstructure:"reconnect-backoff"`
	MetricTimeout    time.Duration `mapstructure:"metric-timeout"`
	APITimeout       time.Duration `mapstructure:"api-timeout"`
	WatchTimeout     time.Duration `mapstructure:"watch-timeout"`

	WorkerTemplate string `mapstructure:"worker-template"`

	MetricsAddr    string `mapstructure:"metrics-bind-address"`
	ProbeAddr      string `mapstructure:"health-probe-bind-address"`
	LeaderElect    bool   `mapstructure:"leader-elect"`
	LogLevel       string `mapstructure:"log-level"`
	LogDevelopment bool   `mapstructure:"log-development"`
}

// envAliases lists legacy environment names accepted for a key in addition to its own.
var envAliases = map[string][]string{
	"check-interval": {"POLLING_INTERVAL"},
	"threshold":      {"MAX_QUEUE_MESSAGES"},
	"queue-host":     {"RABBITMQ_HOST"},
	"queue-name":     {"RABBITMQ_QUEUE"},
	"queue-user":     {"RABBITMQ_USER"},
	"queue-password": {"RABBITMQ_PASSWORD", "RABBITMQ_PASS"},
}

// BindFlags registers all configuration flags with their defaults on fs.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("source", SourceWatch, "Resource source: watch (QueueAutoscaler resources) or poll (single static target)")
	fs.String("mode", string(interfaces.ModeManaging), "Workload mode: managing (patch replicas only) or owning (create/delete the Deployment)")
	fs.String("policy", "proportional", "Scaling policy: proportional or incremental")
	fs.String("metric-source", "amqp", "Queue depth source: amqp, management or redis")

	fs.String("crd-group", queuev1alpha1.GroupVersion.Group, "API group of the watched resource")
	fs.String("crd-version", queuev1alpha1.GroupVersion.Version, "API version of the watched resource")
	fs.String("crd-plural", queuev1alpha1.Resource, "Plural name of the watched resource")
	fs.String("namespace", "", "Namespace to watch and scale in; empty watches all namespaces")
	fs.String("target-deployment", "", "Deployment to scale in poll mode, or in managing mode when the resource names none")

	fs.Int32("min-replicas", 1, "Default lower replica bound")
	fs.Int32("max-replicas", 10, "Default upper replica bound")
	fs.Int32("threshold", 100, "Default number of messages per replica")

	fs.String("queue-host", "", "Default broker address")
	fs.String("queue-name", "", "Queue to observe in poll mode")
	fs.String("queue-user", "guest", "Default broker user")
	fs.String("queue-password", "guest", "Default broker password")
	fs.String("management-vhost", "/", "Broker virtual host")
	fs.Int("redis-db", 0, "Redis logical database for the redis metric source")

	fs.Duration("check-interval", 30*time.Second, "Poll interval in poll mode")
	fs.Duration("resync-interval", 30*time.Second, "Re-evaluate every watched resource at this interval; 0 disables")
	fs.Duration("reconnect-delay", 5*time.Second, "Delay before reconnecting a broken watch")
	fs.String("reconnect-backoff", BackoffConstant, "Reconnect delay policy: constant or exponential")
	fs.Duration("metric-timeout", 5*time.Second, "Timeout of a single queue depth fetch")
	fs.Duration("api-timeout", 10*time.Second, "Timeout of a single Kubernetes API call")
	fs.Duration("watch-timeout", 5*time.Minute, "Server-side timeout of one watch request")

	fs.String("worker-template", "", "Path to a YAML worker template used in owning mode")

	fs.String("metrics-bind-address", ":8080", "The address the metric endpoint binds to; 0 disables it")
	fs.String("health-probe-bind-address", ":8081", "The address the probe endpoint binds to")
	fs.Bool("leader-elect", false, "Enable leader election so only one controller replica scales targets")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.Bool("log-development", false, "Use development (console) logging")
}

// Load reads the configuration from the parsed flags in fs and the environment, then validates it.
func Load(fs *pflag.FlagSet, v *viper.Viper) (*Config, error) {
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{strings.ToUpper(strings.ReplaceAll(key, "-", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// secondsToDurationHook reads a bare integer as a number of seconds, the format
// of CHECK_INTERVAL and POLLING_INTERVAL in existing deployments.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(data.(string)), 10, 64)
		if err != nil {
			return data, nil
		}
		return time.Duration(n) * time.Second, nil
	}
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, fmt.Sprintf(format, args...))
	}

	switch c.Source {
	case SourceWatch, SourcePoll:
	default:
		return invalid("source must be %q or %q, got %q", SourceWatch, SourcePoll, c.Source)
	}
	switch interfaces.Mode(c.Mode) {
	case interfaces.ModeManaging, interfaces.ModeOwning:
	default:
		return invalid("mode must be %q or %q, got %q", interfaces.ModeManaging, interfaces.ModeOwning, c.Mode)
	}
	switch c.Policy {
	case "proportional", "incremental":
	default:
		return invalid("policy must be proportional or incremental, got %q", c.Policy)
	}
	switch c.MetricSource {
	case "amqp", "management", "redis":
	default:
		return invalid("metric-source must be amqp, management or redis, got %q", c.MetricSource)
	}
	switch c.ReconnectBackoff {
	case BackoffConstant, BackoffExponential:
	default:
		return invalid("reconnect-backoff must be %q or %q, got %q", BackoffConstant, BackoffExponential, c.ReconnectBackoff)
	}

	if c.MinReplicas < 0 {
		return invalid("min-replicas must be >= 0, got %d", c.MinReplicas)
	}
	if c.MinReplicas > c.MaxReplicas {
		return invalid("min-replicas (%d) must be <= max-replicas (%d)", c.MinReplicas, c.MaxReplicas)
	}
	if c.Threshold <= 0 {
		return invalid("threshold must be > 0, got %d", c.Threshold)
	}

	for name, d := range map[string]time.Duration{
		"check-interval":  c.CheckInterval,
		"reconnect-delay": c.ReconnectDelay,
		"metric-timeout":  c.MetricTimeout,
		"api-timeout":     c.APITimeout,
		"watch-timeout":   c.WatchTimeout,
	} {
		if d <= 0 {
			return invalid("%s must be positive, got %s", name, d)
		}
	}
	if c.ResyncInterval < 0 {
		return invalid("resync-interval must be >= 0, got %s", c.ResyncInterval)
	}

	if c.Source == SourceWatch && (c.CRDGroup == "" || c.CRDVersion == "" || c.CRDPlural == "") {
		return invalid("crd-group, crd-version and crd-plural are required in watch mode")
	}
	if c.Source == SourcePoll {
		if c.QueueName == "" {
			return invalid("queue-name is required in poll mode")
		}
		if c.TargetDeployment == "" {
			return invalid("target-deployment is required in poll mode")
		}
		if c.QueueHost == "" {
			return invalid("queue-host is required in poll mode")
		}
	}
	return nil
}

// GVR returns the watched resource.
func (c *Config) GVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: c.CRDGroup, Version: c.CRDVersion, Resource: c.CRDPlural}
}

// TargetNamespace is the namespace of the statically configured target.
func (c *Config) TargetNamespace() string {
	if c.Namespace == "" {
		return "default"
	}
	return c.Namespace
}

// StaticSpec is the autoscale spec of the statically configured target.
func (c *Config) StaticSpec() interfaces.AutoscaleSpec {
	return interfaces.AutoscaleSpec{
		QueueHost:       c.QueueHost,
		QueueName:       c.QueueName,
		QueueUser:       c.QueueUser,
		QueueCredential: c.QueuePassword,
		MinReplicas:     c.MinReplicas,
		MaxReplicas:     c.MaxReplicas,
		Threshold:       c.Threshold,
	}
}
