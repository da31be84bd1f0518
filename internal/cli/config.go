package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"crmcore/internal/backend"
	"crmcore/internal/blob"
)

// Configuration keys. Each maps to CRMCORE_<KEY> in the environment and to
// <key> in .crmctl.yaml.
const (
	keyStorageDriver = "storage_driver"
	keySQLitePath    = "sqlite_path"
	keyPostgresDSN   = "postgres_dsn"
	keyAPIURL        = "api_url"
	keyAPIToken      = "api_token"
	keyReadOnly      = "read_only"
	keyExportDriver  = "export_driver"
	keyExportFSRoot  = "export_fs_root"
	keyLogLevel      = "log_level"
	keyOutput        = "output"
	keyNoColor       = "no_color"
	keyMaxBulk       = "max_bulk"
	keyTrace         = "trace"
)

type settings struct {
	Backend  backend.Config
	Export   blob.Config
	LogLevel slog.Level
	Output   string
	NoColor  bool
	MaxBulk  int
	Trace    bool
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyStorageDriver, string(backend.DriverSQLite))
	v.SetDefault(keySQLitePath, "crmcore.db")
	v.SetDefault(keyExportDriver, string(blob.DriverFilesystem))
	v.SetDefault(keyExportFSRoot, "./exports")
	v.SetDefault(keyLogLevel, "warn")
	v.SetDefault(keyOutput, "table")
	v.SetDefault(keyMaxBulk, 100)
	v.SetEnvPrefix("CRMCORE")
	v.AutomaticEnv()
	return v
}

// bindFlags exposes flag values through v under the matching keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// loadSettings reads the optional config file then resolves every key.
func loadSettings(v *viper.Viper, configFile string) (settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".crmctl") // .yaml is implicit
		v.AddConfigPath("./")
		v.AddConfigPath("$HOME")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return settings{}, fmt.Errorf("read config: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString(keyLogLevel))); err != nil {
		return settings{}, fmt.Errorf("invalid log level %q", v.GetString(keyLogLevel))
	}
	output := strings.ToLower(v.GetString(keyOutput))
	if output != "table" && output != "json" {
		return settings{}, fmt.Errorf("invalid output %q (table or json)", output)
	}

	export := blob.ConfigFromEnv()
	export.Driver = blob.Driver(strings.ToLower(v.GetString(keyExportDriver)))
	export.FSRoot = v.GetString(keyExportFSRoot)

	return settings{
		Backend: backend.Config{
			Driver:      backend.Driver(strings.ToLower(v.GetString(keyStorageDriver))),
			SQLitePath:  v.GetString(keySQLitePath),
			PostgresDSN: v.GetString(keyPostgresDSN),
			APIURL:      v.GetString(keyAPIURL),
			APIToken:    v.GetString(keyAPIToken),
			ReadOnly:    v.GetBool(keyReadOnly),
		},
		Export:   export,
		LogLevel: level,
		Output:   output,
		NoColor:  v.GetBool(keyNoColor),
		MaxBulk:  v.GetInt(keyMaxBulk),
		Trace:    v.GetBool(keyTrace),
	}, nil
}
