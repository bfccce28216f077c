package config

// #region imports
import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/situation-engine/internal/embedding"
	"github.com/danielpatrickdp/situation-engine/internal/gate"
	"github.com/danielpatrickdp/situation-engine/internal/matcher"
	"github.com/danielpatrickdp/situation-engine/internal/planner"
	"github.com/danielpatrickdp/situation-engine/internal/session"
	"github.com/danielpatrickdp/situation-engine/internal/signals"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"github.com/danielpatrickdp/situation-engine/internal/update"
	"github.com/spf13/viper"
)

// #endregion

// #region types

// EnvPrefix is prepended to every environment override, e.g.
// SITUATION_RESOLVER_CONFIDENT_THRESHOLD.
const EnvPrefix = "SITUATION"

// Config is the full engine configuration.
type Config struct {
	DBPath      string         `mapstructure:"db_path"`
	CorpusPath  string         `mapstructure:"corpus_path"`
	WatchCorpus bool           `mapstructure:"watch_corpus"`
	Weights     WeightsConfig  `mapstructure:"weights"`
	Embedder    EmbedderConfig `mapstructure:"embedder"`
	Executor    ExecutorConfig `mapstructure:"executor"`
	Matcher     MatcherConfig  `mapstructure:"matcher"`
	Resolver    ResolverConfig `mapstructure:"resolver"`
	Planner     PlannerConfig  `mapstructure:"planner"`
	Learner     LearnerConfig  `mapstructure:"learner"`
	Feedback    FeedbackConfig `mapstructure:"feedback"`
	Signals     SignalsConfig  `mapstructure:"signals"`
	Log         LogConfig      `mapstructure:"log"`
}

// WeightsConfig selects the weight table backend.
type WeightsConfig struct {
	Backend string `mapstructure:"backend"` // "sqlite" | "file"
	File    string `mapstructure:"file"`    // path for the file backend
}

// EmbedderConfig selects and tunes the embedding provider.
type EmbedderConfig struct {
	Kind            string        `mapstructure:"kind"` // "grpc" | "local"
	Addr            string        `mapstructure:"addr"`
	Dim             int           `mapstructure:"dim"` // local hashing embedder only
	CacheSize       int           `mapstructure:"cache_size"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// ExecutorConfig selects the action executor.
type ExecutorConfig struct {
	Kind string `mapstructure:"kind"` // "dry_run" | "grpc"
	Addr string `mapstructure:"addr"`
}

// MatcherConfig tunes index building.
type MatcherConfig struct {
	Parallelism int `mapstructure:"parallelism"`
}

// ResolverConfig holds the decision thresholds.
type ResolverConfig struct {
	ConfidentThreshold float64 `mapstructure:"confident_threshold"`
	AmbiguityMargin    float64 `mapstructure:"ambiguity_margin"`
	MaxCandidates      int     `mapstructure:"max_candidates"`
}

// PlannerConfig holds the context rule tables. Actions are "tool.operation".
type PlannerConfig struct {
	LowBattery      int      `mapstructure:"low_battery"`
	HeavyActions    []string `mapstructure:"heavy_actions"`
	NightStart      int      `mapstructure:"night_start"`
	NightEnd        int      `mapstructure:"night_end"`
	NightDomains    []string `mapstructure:"night_domains"`
	NightAction     string   `mapstructure:"night_action"`
	BrightnessCap   int      `mapstructure:"brightness_cap"`
	HotspotAction   string   `mapstructure:"hotspot_action"`
	WifiReconnect   string   `mapstructure:"wifi_reconnect"`
	MinActionWeight float64  `mapstructure:"min_action_weight"`
}

// LearnerConfig holds weight arithmetic and persistence settings.
type LearnerConfig struct {
	Increment     float64       `mapstructure:"increment"`
	Decrement     float64       `mapstructure:"decrement"`
	Min           float64       `mapstructure:"min"`
	Max           float64       `mapstructure:"max"`
	DecayHalfLife time.Duration `mapstructure:"decay_half_life"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// FeedbackConfig maps execution results to learning outcomes.
type FeedbackConfig struct {
	OnSuccess string `mapstructure:"on_success"`
	OnFailure string `mapstructure:"on_failure"`
}

// SignalsConfig locates the context probes.
type SignalsConfig struct {
	PowerSupplyDir    string   `mapstructure:"power_supply_dir"`
	NetClassDir       string   `mapstructure:"net_class_dir"`
	HotspotInterfaces []string `mapstructure:"hotspot_interfaces"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// #endregion

// #region defaults

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_path", "situation_engine.db")
	v.SetDefault("corpus_path", "configs/situations.yaml")
	v.SetDefault("watch_corpus", false)

	v.SetDefault("weights.backend", "sqlite")
	v.SetDefault("weights.file", "weights.json")

	retry := embedding.DefaultRetryConfig()
	v.SetDefault("embedder.kind", "local")
	v.SetDefault("embedder.addr", "localhost:50051")
	v.SetDefault("embedder.dim", 256)
	v.SetDefault("embedder.cache_size", 1024)
	v.SetDefault("embedder.max_retries", retry.MaxRetries)
	v.SetDefault("embedder.timeout", retry.Timeout)
	v.SetDefault("embedder.breaker_failures", retry.BreakerFailures)
	v.SetDefault("embedder.breaker_cooldown", retry.BreakerCooldown)

	v.SetDefault("executor.kind", "dry_run")
	v.SetDefault("executor.addr", "localhost:50051")

	v.SetDefault("matcher.parallelism", matcher.DefaultConfig().Parallelism)

	g := gate.DefaultGateConfig()
	v.SetDefault("resolver.confident_threshold", g.ConfidentThreshold)
	v.SetDefault("resolver.ambiguity_margin", g.AmbiguityMargin)
	v.SetDefault("resolver.max_candidates", g.MaxCandidates)

	p := planner.DefaultConfig()
	v.SetDefault("planner.low_battery", p.LowBattery)
	v.SetDefault("planner.heavy_actions", p.HeavyActions)
	v.SetDefault("planner.night_start", p.NightStart)
	v.SetDefault("planner.night_end", p.NightEnd)
	v.SetDefault("planner.night_domains", p.NightDomains)
	v.SetDefault("planner.night_action", p.NightAction.Name())
	v.SetDefault("planner.brightness_cap", p.NightBrightnessCap)
	v.SetDefault("planner.hotspot_action", p.HotspotAction.Name())
	v.SetDefault("planner.wifi_reconnect", p.WifiReconnect.Name())
	v.SetDefault("planner.min_action_weight", p.MinActionWeight)

	u := update.DefaultUpdateConfig()
	v.SetDefault("learner.increment", u.Increment)
	v.SetDefault("learner.decrement", u.Decrement)
	v.SetDefault("learner.min", u.Min)
	v.SetDefault("learner.max", u.Max)
	v.SetDefault("learner.decay_half_life", u.DecayHalfLife)
	v.SetDefault("learner.write_timeout", 2*time.Second)

	v.SetDefault("feedback.on_success", string(update.OutcomeNeutral))
	v.SetDefault("feedback.on_failure", string(update.OutcomeNeutral))

	sig := signals.DefaultProducerConfig()
	v.SetDefault("signals.power_supply_dir", sig.PowerSupplyDir)
	v.SetDefault("signals.net_class_dir", sig.NetClassDir)
	v.SetDefault("signals.hotspot_interfaces", sig.HotspotInterfaces)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// #endregion

// #region load

// Load reads configuration from path (optional), then SITUATION_* environment
// variables, over built-in defaults. An empty path skips the file; a named
// file that does not exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration with no file or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// #endregion

// #region validate

// Validate checks enumerations and ranges. Component-level checks (update
// bounds, action names) run in the converters.
func (c *Config) Validate() error {
	var errs []error
	switch c.Weights.Backend {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("weights.backend %q: want sqlite or file", c.Weights.Backend))
	}
	switch c.Embedder.Kind {
	case "grpc", "local":
	default:
		errs = append(errs, fmt.Errorf("embedder.kind %q: want grpc or local", c.Embedder.Kind))
	}
	if c.Embedder.Kind == "local" && c.Embedder.Dim <= 0 {
		errs = append(errs, fmt.Errorf("embedder.dim must be > 0, got %d", c.Embedder.Dim))
	}
	switch c.Executor.Kind {
	case "dry_run", "grpc":
	default:
		errs = append(errs, fmt.Errorf("executor.kind %q: want dry_run or grpc", c.Executor.Kind))
	}
	if t := c.Resolver.ConfidentThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("resolver.confident_threshold must be in (0, 1], got %g", t))
	}
	if c.Resolver.AmbiguityMargin < 0 {
		errs = append(errs, fmt.Errorf("resolver.ambiguity_margin must be >= 0, got %g", c.Resolver.AmbiguityMargin))
	}
	if h := c.Planner.NightStart; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("planner.night_start must be an hour 0-23, got %d", h))
	}
	if h := c.Planner.NightEnd; h < 0 || h > 23 {
		errs = append(errs, fmt.Errorf("planner.night_end must be an hour 0-23, got %d", h))
	}
	if err := c.UpdateConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("learner: %w", err))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PlannerConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// #endregion

// #region converters

// GateConfig returns the resolver thresholds.
func (c *Config) GateConfig() gate.GateConfig {
	return gate.GateConfig{
		ConfidentThreshold: c.Resolver.ConfidentThreshold,
		AmbiguityMargin:    c.Resolver.AmbiguityMargin,
		MaxCandidates:      c.Resolver.MaxCandidates,
	}
}

// MatcherConfig returns the matcher settings.
func (c *Config) MatcherConfig() matcher.Config {
	return matcher.Config{Parallelism: c.Matcher.Parallelism}
}

// RetryConfig returns the provider-boundary retry settings.
func (c *Config) RetryConfig() embedding.RetryConfig {
	r := embedding.DefaultRetryConfig()
	r.MaxRetries = c.Embedder.MaxRetries
	r.Timeout = c.Embedder.Timeout
	r.BreakerFailures = c.Embedder.BreakerFailures
	r.BreakerCooldown = c.Embedder.BreakerCooldown
	return r
}

// UpdateConfig returns the weight arithmetic settings.
func (c *Config) UpdateConfig() update.UpdateConfig {
	return update.UpdateConfig{
		Increment:     c.Learner.Increment,
		Decrement:     c.Learner.Decrement,
		Min:           c.Learner.Min,
		Max:           c.Learner.Max,
		DecayHalfLife: c.Learner.DecayHalfLife,
	}
}

// PlannerConfig returns the rule tables with action names parsed.
func (c *Config) PlannerConfig() (planner.Config, error) {
	p := planner.Config{
		LowBattery:         c.Planner.LowBattery,
		HeavyActions:       c.Planner.HeavyActions,
		NightStart:         c.Planner.NightStart,
		NightEnd:           c.Planner.NightEnd,
		NightDomains:       c.Planner.NightDomains,
		NightBrightnessCap: c.Planner.BrightnessCap,
		MinActionWeight:    c.Planner.MinActionWeight,
	}
	var err error
	if p.NightAction, err = situation.ParseAction(c.Planner.NightAction); err != nil {
		return p, fmt.Errorf("planner.night_action: %w", err)
	}
	// the brightness rule caps the night action's own tool
	p.BrightnessTool = p.NightAction.Tool
	if p.HotspotAction, err = situation.ParseAction(c.Planner.HotspotAction); err != nil {
		return p, fmt.Errorf("planner.hotspot_action: %w", err)
	}
	if p.WifiReconnect, err = situation.ParseAction(c.Planner.WifiReconnect); err != nil {
		return p, fmt.Errorf("planner.wifi_reconnect: %w", err)
	}
	return p, nil
}

// ProducerConfig returns the context probe locations.
func (c *Config) ProducerConfig() signals.ProducerConfig {
	return signals.ProducerConfig{
		PowerSupplyDir:    c.Signals.PowerSupplyDir,
		NetClassDir:       c.Signals.NetClassDir,
		HotspotInterfaces: c.Signals.HotspotInterfaces,
	}
}

// Policy returns the execution-result learning policy.
func (c *Config) Policy() (session.Policy, error) {
	onSuccess, err := update.ParseOutcome(c.Feedback.OnSuccess)
	if err != nil {
		return session.Policy{}, fmt.Errorf("feedback.on_success: %w", err)
	}
	onFailure, err := update.ParseOutcome(c.Feedback.OnFailure)
	if err != nil {
		return session.Policy{}, fmt.Errorf("feedback.on_failure: %w", err)
	}
	return session.Policy{OnSuccess: onSuccess, OnFailure: onFailure}, nil
}

// #endregion
