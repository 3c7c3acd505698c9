package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/gophnotes/internal/flagx"
	"github.com/dmitrijs2005/gophnotes/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is a DTO used exclusively for file unmarshalling. Zero values
// mean "not set" and leave the runtime Config untouched.
type FileConfig struct {
	LocalDBPath string `json:"local_db_path" yaml:"local_db_path"`

	RemoteBackend string `json:"remote_backend" yaml:"remote_backend"`
	PostgresDSN   string `json:"postgres_dsn" yaml:"postgres_dsn"`

	S3Bucket       string `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region       string `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3AccessKey    string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key" yaml:"s3_secret_key"`

	SessionSecret string `json:"session_secret" yaml:"session_secret"`

	RemoteTimeout       timex.Duration `json:"remote_timeout" yaml:"remote_timeout"`
	HydrateTimeout      timex.Duration `json:"hydrate_timeout" yaml:"hydrate_timeout"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`

	DispatchWorkers int `json:"dispatch_workers" yaml:"dispatch_workers"`
	DispatchQueue   int `json:"dispatch_queue" yaml:"dispatch_queue"`

	HydrationGate string `json:"hydration_gate" yaml:"hydration_gate"`

	LogBackend string `json:"log_backend" yaml:"log_backend"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	LogFile    string `json:"log_file" yaml:"log_file"`
}

// parseFile overlays cfg with values from the file named by -c/-config.
// Without the flag nothing happens. Read or decode errors panic.
func parseFile(cfg *Config, args []string) {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(cfg)
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.LocalDBPath, fc.LocalDBPath)
	setString(&cfg.RemoteBackend, fc.RemoteBackend)
	setString(&cfg.PostgresDSN, fc.PostgresDSN)
	setString(&cfg.S3Bucket, fc.S3Bucket)
	setString(&cfg.S3Region, fc.S3Region)
	setString(&cfg.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	setString(&cfg.SessionSecret, fc.SessionSecret)
	setString(&cfg.HydrationGate, fc.HydrationGate)
	setString(&cfg.LogBackend, fc.LogBackend)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFile, fc.LogFile)

	if fc.RemoteTimeout.Duration > 0 {
		cfg.RemoteTimeout = fc.RemoteTimeout.Duration
	}
	if fc.HydrateTimeout.Duration > 0 {
		cfg.HydrateTimeout = fc.HydrateTimeout.Duration
	}
	if fc.OnlineCheckInterval.Duration > 0 {
		cfg.OnlineCheckInterval = fc.OnlineCheckInterval.Duration
	}
	if fc.DispatchWorkers > 0 {
		cfg.DispatchWorkers = fc.DispatchWorkers
	}
	if fc.DispatchQueue > 0 {
		cfg.DispatchQueue = fc.DispatchQueue
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
