package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"hadydotai/beacon/admission"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Store      StoreConfig      `mapstructure:"store"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Firebase   FirebaseConfig   `mapstructure:"firebase"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type IngestConfig struct {
	Guard         string `mapstructure:"guard"`
	EscalateGuard string `mapstructure:"escalate_guard"`
}

type RateLimitConfig struct {
	Window     time.Duration `mapstructure:"window"`
	Max        int           `mapstructure:"max"`
	TrustProxy bool          `mapstructure:"trust_proxy"`
}

type RelayConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type EscalationConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Notifier    string        `mapstructure:"notifier"`
	Directory   string        `mapstructure:"directory"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type AuthConfig struct {
	Provider string        `mapstructure:"provider"`
	Static   []StaticToken `mapstructure:"static"`
}

// StaticToken is a fixed bearer token for the static provider. Kept as a list
// rather than a map because viper lowercases map keys.
type StaticToken struct {
	Subject string `mapstructure:"subject"`
	Token   string `mapstructure:"token"`
}

// StaticTokens returns the token to subject table.
func (a AuthConfig) StaticTokens() map[string]string {
	out := make(map[string]string, len(a.Static))
	for _, st := range a.Static {
		out[st.Token] = st.Subject
	}
	return out
}

type FirebaseConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	DatabaseURL     string `mapstructure:"database_url"`
	ProjectID       string `mapstructure:"project_id"`
	EventsPath      string `mapstructure:"events_path"`
	UsersPath       string `mapstructure:"users_path"`
}

// Load reads path when given, then layers BEACON_* environment variables on
// top. PORT is honoured for server.port so the service runs unchanged on
// hosts that inject it.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("beacon")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "PORT", "BEACON_SERVER_PORT"); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("ingest.guard", "full")
	v.SetDefault("ingest.escalate_guard", "none")
	v.SetDefault("ratelimit.window", admission.DefaultRateWindow)
	v.SetDefault("ratelimit.max", admission.DefaultRateLimit)
	v.SetDefault("ratelimit.trust_proxy", false)
	v.SetDefault("relay.send_buffer", 64)
	v.SetDefault("relay.read_timeout", 60*time.Second)
	v.SetDefault("relay.write_timeout", 10*time.Second)
	v.SetDefault("relay.ping_interval", 30*time.Second)
	v.SetDefault("escalation.max_parallel", 16)
	v.SetDefault("escalation.send_timeout", 10*time.Second)
	v.SetDefault("escalation.notifier", "log")
	v.SetDefault("escalation.directory", "store")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/beacon.db")
	v.SetDefault("auth.provider", "static")
	v.SetDefault("relay.allowed_origins", []string{})
	v.SetDefault("firebase.credentials_file", "")
	v.SetDefault("firebase.database_url", "")
	v.SetDefault("firebase.project_id", "")
	v.SetDefault("firebase.events_path", "data")
	v.SetDefault("firebase.users_path", "users")
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := admission.ParseGates(c.Ingest.Guard); err != nil {
		return fmt.Errorf("ingest.guard: %w", err)
	}
	if _, err := admission.ParseGates(c.Ingest.EscalateGuard); err != nil {
		return fmt.Errorf("ingest.escalate_guard: %w", err)
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.max and ratelimit.window must be positive")
	}
	if c.Relay.ReadTimeout <= 0 || c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.read_timeout and relay.write_timeout must be positive")
	}
	if c.Relay.PingInterval < 0 || c.Relay.PingInterval >= c.Relay.ReadTimeout {
		return fmt.Errorf("relay.ping_interval must be below relay.read_timeout")
	}
	if err := oneOf("store.driver", c.Store.Driver, "sqlite", "firebase"); err != nil {
		return err
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the sqlite driver")
	}
	if err := oneOf("auth.provider", c.Auth.Provider, "static", "firebase"); err != nil {
		return err
	}
	for i, st := range c.Auth.Static {
		if st.Subject == "" || st.Token == "" {
			return fmt.Errorf("auth.static[%d] needs both subject and token", i)
		}
	}
	if err := oneOf("escalation.notifier", c.Escalation.Notifier, "log", "firebase"); err != nil {
		return err
	}
	if err := oneOf("escalation.directory", c.Escalation.Directory, "store", "firebase"); err != nil {
		return err
	}
	if c.Escalation.Directory == "store" && c.Store.Driver != "sqlite" {
		return fmt.Errorf("escalation.directory=store needs store.driver=sqlite")
	}
	if c.Firebase.DatabaseURL == "" && (c.Store.Driver == "firebase" || c.Escalation.Directory == "firebase") {
		return fmt.Errorf("firebase.database_url is required when the database is used")
	}
	return nil
}

// UsesFirebase reports whether any collaborator is backed by Firebase.
func (c Config) UsesFirebase() bool {
	return c.Store.Driver == "firebase" ||
		c.Auth.Provider == "firebase" ||
		c.Escalation.Notifier == "firebase" ||
		c.Escalation.Directory == "firebase"
}

func (c Config) Addr() string { return fmt.Sprintf(":%d", c.Server.Port) }

func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), value)
}
