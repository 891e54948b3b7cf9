package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. INDEXER_PG_DSN.
const EnvPrefix = "INDEXER"

// OracleConfig selects the reference price source. StaticPrice, when set,
// replaces the HTTP oracle.
type OracleConfig struct {
	BaseURL     string
	CoinID      string
	Currency    string
	APIKey      string
	StaticPrice string
	RedisAddr   string
	RedisPass   string
	RedisDB     int
	RedisTTL    time.Duration
}

// VerifyConfig locates the verification service and the pair source.
type VerifyConfig struct {
	URL        string
	SourceFile string
	Cron       string
	Workers    int
}

// Config holds configuration values of the run command.
type Config struct {
	RPCURL         string
	PGDSN          string
	Factory        string
	ReferenceToken string
	FromBlock      uint64
	ToBlock        uint64
	Follow         bool
	PollInterval   time.Duration
	BatchSize      uint64
	Concurrency    int
	ResolveSigners bool
	MaxRetries     int
	RetryBackoff   time.Duration
	RecomputeFrom  *uint64
	StateName      string
	Oracle         OracleConfig
	Verify         VerifyConfig
	NATSURL        string
	NATSPrefix     string
	MetricsAddr    string
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"batch-size":      uint64(500),
		"concurrency":     8,
		"resolve-signers": true,
		"poll-interval":   6 * time.Second,
		"max-retries":     5,
		"retry-backoff":   500 * time.Millisecond,
		"state-name":      "pipeline",
		"oracle-currency": "usd",
		"redis-ttl":       30 * 24 * time.Hour,
		"verify-cron":     "0 */10 * * * *",
		"verify-workers":  4,
		"nats-prefix":     "dexhistory",
		"metrics-addr":    ":9102",
		"log-level":       "info",
	})
	if err != nil {
		return Config{}, err
	}

	recompute, err := optionalUint(v, "recompute-from")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:         v.GetString("rpc"),
		PGDSN:          v.GetString("pg-dsn"),
		Factory:        v.GetString("factory"),
		ReferenceToken: v.GetString("reference-token"),
		FromBlock:      v.GetUint64("from"),
		ToBlock:        v.GetUint64("to"),
		Follow:         v.GetBool("follow"),
		PollInterval:   v.GetDuration("poll-interval"),
		BatchSize:      v.GetUint64("batch-size"),
		Concurrency:    v.GetInt("concurrency"),
		ResolveSigners: v.GetBool("resolve-signers"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		RecomputeFrom:  recompute,
		StateName:      v.GetString("state-name"),
		Oracle: OracleConfig{
			BaseURL:     v.GetString("oracle-url"),
			CoinID:      v.GetString("oracle-coin"),
			Currency:    v.GetString("oracle-currency"),
			APIKey:      v.GetString("oracle-api-key"),
			StaticPrice: v.GetString("static-price"),
			RedisAddr:   v.GetString("redis-addr"),
			RedisPass:   v.GetString("redis-password"),
			RedisDB:     v.GetInt("redis-db"),
			RedisTTL:    v.GetDuration("redis-ttl"),
		},
		Verify: VerifyConfig{
			URL:        v.GetString("verify-url"),
			SourceFile: v.GetString("verify-source"),
			Cron:       v.GetString("verify-cron"),
			Workers:    v.GetInt("verify-workers"),
		},
		NATSURL:     v.GetString("nats-url"),
		NATSPrefix:  v.GetString("nats-prefix"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings the pipeline cannot start without.
func (c Config) Validate() error {
	switch {
	case c.RPCURL == "":
		return fmt.Errorf("rpc url is required")
	case c.PGDSN == "":
		return fmt.Errorf("pg-dsn is required")
	case c.Factory == "":
		return fmt.Errorf("factory address is required")
	case c.ReferenceToken == "":
		return fmt.Errorf("reference token is required")
	case c.Oracle.CoinID == "" && c.Oracle.StaticPrice == "":
		return fmt.Errorf("oracle-coin or static-price is required")
	case c.Follow && c.ToBlock != 0:
		return fmt.Errorf("follow mode requires --to 0")
	}
	return nil
}

// ServeConfig holds configuration for the query API.
type ServeConfig struct {
	PGDSN     string
	Listen    string
	AdminKey  string
	StateName string
	LogLevel  string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"listen":     ":8080",
		"state-name": "pipeline",
		"log-level":  "info",
	})
	if err != nil {
		return ServeConfig{}, err
	}
	return ServeConfig{
		PGDSN:     v.GetString("pg-dsn"),
		Listen:    v.GetString("listen"),
		AdminKey:  v.GetString("admin-key"),
		StateName: v.GetString("state-name"),
		LogLevel:  v.GetString("log-level"),
	}, nil
}

// StoreConfig is shared by the commands that only need the database.
type StoreConfig struct {
	PGDSN    string
	LogLevel string
}

func LoadStore(cfgFile string, flags *pflag.FlagSet) (StoreConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{"log-level": "info"})
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{PGDSN: v.GetString("pg-dsn"), LogLevel: v.GetString("log-level")}, nil
}

// VerifyCommandConfig holds configuration for the one-shot verify command.
type VerifyCommandConfig struct {
	StoreConfig
	Verify VerifyConfig
}

func LoadVerify(cfgFile string, flags *pflag.FlagSet) (VerifyCommandConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"verify-workers": 4,
		"log-level":      "info",
	})
	if err != nil {
		return VerifyCommandConfig{}, err
	}
	return VerifyCommandConfig{
		StoreConfig: StoreConfig{PGDSN: v.GetString("pg-dsn"), LogLevel: v.GetString("log-level")},
		Verify: VerifyConfig{
			URL:        v.GetString("verify-url"),
			SourceFile: v.GetString("verify-source"),
			Workers:    v.GetInt("verify-workers"),
		},
	}, nil
}

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	Factory  string
	In       string
	Out      string
	Errors   string
	LogLevel string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out":       "./data/typed_events.jsonl",
		"errors":    "./data/decode_errors.jsonl",
		"log-level": "info",
	})
	if err != nil {
		return DecodeConfig{}, err
	}
	return DecodeConfig{
		Factory:  v.GetString("factory"),
		In:       v.GetString("in"),
		Out:      v.GetString("out"),
		Errors:   v.GetString("errors"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

// newViper applies defaults, binds flags and env, and reads the config
// file. Without cfgFile an optional ./config.* is read.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

// optionalUint returns nil when key is unset or blank.
func optionalUint(v *viper.Viper, key string) (*uint64, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return &val, nil
}
