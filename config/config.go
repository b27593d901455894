package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/adda/globals"
)

const (
	defaultLogLevel = "INFO"
	defaultAddr     = "localhost:8000"
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (prefix ADDA_) and command-line flags.
type Config struct {
	LogLevel          string            `mapstructure:"log_level"`
	AdminUsers        []string          `mapstructure:"admin_users"` // e-mail addresses promoted to admin on startup
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	PolicyConfig      PolicyConfig      `mapstructure:"policy"`
	BlobConfig        BlobConfig        `mapstructure:"blob"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	CleanupConfig     CleanupConfig     `mapstructure:"cleanup"`
	ServerConfig      ServerConfig      `mapstructure:"server"`
}

// PersistenceConfig selects the gorm dialector ("sqlite" or "postgres") and its DSN.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

// PolicyConfig holds the tunable rules of the hangout lifecycle.
type PolicyConfig struct {
	HangoutDuration  time.Duration `mapstructure:"hangout_duration"`
	MaxLeadTime      time.Duration `mapstructure:"max_lead_time"` // how far in the future a hangout may start
	StartGrace       time.Duration `mapstructure:"start_grace"`   // how far in the past a start time is still accepted
	EndingSoonWindow time.Duration `mapstructure:"ending_soon_window"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	FeedLimit        int           `mapstructure:"feed_limit"`
	FeedDebounce     time.Duration `mapstructure:"feed_debounce"`
	RecentWindow     time.Duration `mapstructure:"recent_window"`
}

// BlobConfig configures the local blob store. Dir holds the files, Index is the buntdb metadata file.
type BlobConfig struct {
	Dir            string `mapstructure:"dir"`
	Index          string `mapstructure:"index"`
	BaseURL        string `mapstructure:"base_url"`
	MaxAvatarBytes int64  `mapstructure:"max_avatar_bytes"`
	MaxImageBytes  int64  `mapstructure:"max_image_bytes"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", used for discovery
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	ResetTTL  time.Duration `mapstructure:"reset_ttl"`
	ResetURL  string        `mapstructure:"reset_url"` // the reset token is appended as ?token=
	OIDC      []OIDCConfig  `mapstructure:"oidc"`
}

// CleanupConfig schedules the janitor that hard-deletes hangouts which expired more than Retention ago.
type CleanupConfig struct {
	Cron      string        `mapstructure:"cron"`
	Retention time.Duration `mapstructure:"retention"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("admin_users", []string{})
	v.SetDefault("persistence.type", "sqlite")
	v.SetDefault("persistence.dsn", "adda.db")
	v.SetDefault("policy.hangout_duration", "2h")
	v.SetDefault("policy.max_lead_time", "168h")
	v.SetDefault("policy.start_grace", "5m")
	v.SetDefault("policy.ending_soon_window", "10m")
	v.SetDefault("policy.poll_interval", "30s")
	v.SetDefault("policy.feed_limit", 50)
	v.SetDefault("policy.feed_debounce", "500ms")
	v.SetDefault("policy.recent_window", "24h")
	v.SetDefault("blob.dir", "blobs")
	v.SetDefault("blob.index", "blobs.db")
	v.SetDefault("blob.base_url", "/media")
	v.SetDefault("blob.max_avatar_bytes", 5*1024*1024)
	v.SetDefault("blob.max_image_bytes", 10*1024*1024)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.reset_ttl", "1h")
	v.SetDefault("auth.reset_url", "http://localhost:8000/reset-password")
	v.SetDefault("cleanup.cron", "@hourly")
	v.SetDefault("cleanup.retention", "24h")
	v.SetDefault("server.addr", defaultAddr)
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("log-level", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.StringSlice("admin-users", nil, "e-mail addresses of admin users")
	flagSet.String("persistence-type", "", "persistence backend (sqlite, postgres)")
	flagSet.String("persistence-dsn", "", "persistence DSN")
	flagSet.String("server-addr", "", "http service address (including port)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// sectionFlags maps flat flag names to their nested configuration keys.
var sectionFlags = map[string]string{
	"persistence_type": "persistence.type",
	"persistence_dsn":  "persistence.dsn",
	"server_addr":      "server.addr",
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		flagSet.VisitAll(func(f *pflag.Flag) {
			if !f.Changed {
				return
			}
			key := f.Name
			if nested, ok := sectionFlags[key]; ok {
				key = nested
			}
			if err := v.BindPFlag(key, f); err != nil {
				globals.AppLogger.Error("could not bind flag (ignored)", "flag", f.Name, "error", err)
			}
		})
	}
	v.SetEnvPrefix("ADDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "all", redacted(v.AllSettings()))
	return &cfg, nil
}

// secretKeys are the settings that never show up in the log, per section.
var secretKeys = map[string][]string{
	"auth":        {"jwt_secret"},
	"persistence": {"dsn"},
}

// redacted masks the secret values of settings in place and returns it.
func redacted(settings map[string]interface{}) map[string]interface{} {
	for section, keys := range secretKeys {
		values, ok := settings[section].(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range keys {
			if s, ok := values[key].(string); ok && s != "" {
				values[key] = "<redacted>"
			}
		}
	}
	return settings
}

// Default returns the configuration with all defaults applied and no file, flag or environment overrides.
func Default() *Config {
	cfg := Config{}
	v := viper.New()
	setDefaults(v)
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// IsAdminEmail reports whether the given address is listed in admin_users.
func (c *Config) IsAdminEmail(email string) bool {
	for _, a := range c.AdminUsers {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}
