package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every configuration environment variable, e.g.
// CXTFIT_METHOD or CXTFIT_SERVER_PORT.
const EnvPrefix = "CXTFIT"

// Config holds all configuration settings of the cxtfit tools.
type Config struct {
	ProjectFile string
	OutletFile  string // measured outlet curve, "time value" per line
	InletFile   string // optional measured inlet curve
	OutputFile  string // simulated outlet CSV, "-" for stdout
	ProfileFile string
	PlotFile    string
	ProjectOut  string // fitted project is written here

	Fit           []string
	Sets          []string // name=value overrides of the solver input
	Method        string
	Workers       int
	MaxIterations int
	HorizonHours  float64
	RSquareStep   float64
	Partition     bool

	PlotWidth  float64 // in inches
	PlotHeight float64

	Quiet    bool
	LogLevel string

	Server ServerConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port            string
	WorkerCount     int
	QueueSize       int
	WebhookURL      string
	WebhookTimeout  time.Duration
	WebhookMaxRetry time.Duration // total time spent retrying one delivery
	EnableProfiling bool
	ProfilingPort   string
	TimingFile      string // batch timings are appended here as CSV
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputFile:    "-",
		Method:        "lm",
		Workers:       1,
		MaxIterations: 1000,
		HorizonHours:  30,
		RSquareStep:   0.1,
		PlotWidth:     6,
		PlotHeight:    4,
		LogLevel:      "info",
		Server:        *DefaultServerConfig(),
	}
}

// DefaultServerConfig returns server configuration with sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            "8080",
		WorkerCount:     4,
		QueueSize:       100,
		WebhookTimeout:  45 * time.Second,
		WebhookMaxRetry: 2 * time.Minute,
		EnableProfiling: false,
		ProfilingPort:   "6060",
	}
}

// option describes one configuration key together with its command line flag.
type option struct {
	name       string
	usage      string
	defaultVal interface{}
}

func options() []option {
	d := DefaultConfig()
	return []option{
		{name: "config", usage: "configuration file (toml, yaml or json)", defaultVal: ""},
		{name: "project", usage: "project file with the solver input", defaultVal: d.ProjectFile},
		{name: "outlet", usage: "measured outlet concentration file", defaultVal: d.OutletFile},
		{name: "inlet", usage: "measured inlet concentration file", defaultVal: d.InletFile},
		{name: "output", usage: "outlet CSV file, - for stdout", defaultVal: d.OutputFile},
		{name: "profile", usage: "concentration profile CSV file", defaultVal: d.ProfileFile},
		{name: "plot", usage: "breakthrough chart file (.png or .svg)", defaultVal: d.PlotFile},
		{name: "save", usage: "write the fitted project to this file", defaultVal: d.ProjectOut},
		{name: "fit", usage: "comma separated parameters to fit, e.g. D,Rc", defaultVal: []string{}},
		{name: "set", usage: "override a solver input value, name=value", defaultVal: []string{}},
		{name: "method", usage: "optimization method: lm or nelder-mead", defaultVal: d.Method},
		{name: "workers", usage: "concurrent trial simulations", defaultVal: d.Workers},
		{name: "max-iterations", usage: "optimizer iteration limit", defaultVal: d.MaxIterations},
		{name: "horizon", usage: "simulated time of every fit trial in h", defaultVal: d.HorizonHours},
		{name: "r2-step", usage: "R² quadrature step in h", defaultVal: d.RSquareStep},
		{name: "partition", usage: "estimate the partition coefficient from inlet and outlet", defaultVal: d.Partition},
		{name: "plot-width", usage: "chart width in inches", defaultVal: d.PlotWidth},
		{name: "plot-height", usage: "chart height in inches", defaultVal: d.PlotHeight},
		{name: "quiet", usage: "only log warnings and errors", defaultVal: d.Quiet},
		{name: "log-level", usage: "log level: debug, info, warn or error", defaultVal: d.LogLevel},
		{name: "server.port", usage: "HTTP listen port", defaultVal: d.Server.Port},
		{name: "server.workers", usage: "fit worker goroutines", defaultVal: d.Server.WorkerCount},
		{name: "server.queue", usage: "pending fit job capacity", defaultVal: d.Server.QueueSize},
		{name: "server.webhook", usage: "URL receiving finished fit results", defaultVal: d.Server.WebhookURL},
		{name: "server.webhook-timeout", usage: "timeout of one webhook request", defaultVal: d.Server.WebhookTimeout},
		{name: "server.webhook-retry", usage: "total retry time of one webhook delivery", defaultVal: d.Server.WebhookMaxRetry},
		{name: "server.profiling", usage: "serve pprof on the profiling port", defaultVal: d.Server.EnableProfiling},
		{name: "server.profiling-port", usage: "pprof listen port", defaultVal: d.Server.ProfilingPort},
		{name: "server.timing-file", usage: "append batch timing summaries to this CSV file", defaultVal: d.Server.TimingFile},
	}
}

// RegisterFlags adds every configuration option to set.
func RegisterFlags(set *pflag.FlagSet) {
	for _, o := range options() {
		if set.Lookup(o.name) != nil {
			continue
		}
		switch v := o.defaultVal.(type) {
		case string:
			set.String(o.name, v, o.usage)
		case []string:
			set.StringSlice(o.name, v, o.usage)
		case bool:
			set.Bool(o.name, v, o.usage)
		case int:
			set.Int(o.name, v, o.usage)
		case float64:
			set.Float64(o.name, v, o.usage)
		case time.Duration:
			set.Duration(o.name, v, o.usage)
		default:
			panic(fmt.Sprintf("config: invalid default for %s", o.name))
		}
	}
}

// NewViper returns a viper instance reading CXTFIT_* environment variables
// and bound to the flags in set.
func NewViper(set *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, o := range options() {
		v.SetDefault(o.name, o.defaultVal)
	}
	if set != nil {
		if err := v.BindPFlags(set); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}
	return v, nil
}

// Load reads the optional configuration file named by the "config" key and
// returns the merged configuration. Flags override the environment, which
// overrides the file.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}
	cfg := &Config{
		ProjectFile:   v.GetString("project"),
		OutletFile:    v.GetString("outlet"),
		InletFile:     v.GetString("inlet"),
		OutputFile:    v.GetString("output"),
		ProfileFile:   v.GetString("profile"),
		PlotFile:      v.GetString("plot"),
		ProjectOut:    v.GetString("save"),
		Fit:           splitList(v.GetStringSlice("fit")),
		Sets:          v.GetStringSlice("set"),
		Method:        v.GetString("method"),
		Workers:       v.GetInt("workers"),
		MaxIterations: v.GetInt("max-iterations"),
		HorizonHours:  v.GetFloat64("horizon"),
		RSquareStep:   v.GetFloat64("r2-step"),
		Partition:     v.GetBool("partition"),
		PlotWidth:     v.GetFloat64("plot-width"),
		PlotHeight:    v.GetFloat64("plot-height"),
		Quiet:         v.GetBool("quiet"),
		LogLevel:      v.GetString("log-level"),
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			WorkerCount:     v.GetInt("server.workers"),
			QueueSize:       v.GetInt("server.queue"),
			WebhookURL:      v.GetString("server.webhook"),
			WebhookTimeout:  v.GetDuration("server.webhook-timeout"),
			WebhookMaxRetry: v.GetDuration("server.webhook-retry"),
			EnableProfiling: v.GetBool("server.profiling"),
			ProfilingPort:   v.GetString("server.profiling-port"),
			TimingFile:      v.GetString("server.timing-file"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("config: max-iterations must not be negative, got %d", c.MaxIterations)
	}
	if c.HorizonHours < 0 || c.RSquareStep < 0 {
		return fmt.Errorf("config: horizon and r2-step must not be negative")
	}
	if c.Server.WorkerCount <= 0 {
		return fmt.Errorf("config: server.workers must be positive, got %d", c.Server.WorkerCount)
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("config: server.queue must be positive, got %d", c.Server.QueueSize)
	}
	return nil
}

// splitList flattens "D,Rc" style entries into single names.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, f := range strings.Split(s, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}
