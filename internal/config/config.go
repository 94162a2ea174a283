package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "FIELDNOTES"
	defaultHTTPAddress    = "127.0.0.1:8085"
	defaultDatabasePath   = "fieldnotes.db"
	defaultAttachmentsDir = "attachments"
	defaultLogLevel       = "info"
	defaultMirrorBackend  = MirrorBackendMemory
	defaultSweepInterval  = 30 * time.Minute
)

// Mirror backend identifiers accepted for mirror.backend.
const (
	MirrorBackendS3     = "s3"
	MirrorBackendWebDAV = "webdav"
	MirrorBackendMemory = "memory"
)

// ErrUnsupportedMirror indicates mirror.backend names no known backend. This is a
// fatal configuration error at startup.
var ErrUnsupportedMirror = errors.New("config: unsupported mirror backend")

// S3Config carries the S3 mirror backend settings.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	AccessKeySecret string
	Prefix          string
	Endpoint        string
}

// WebDAVConfig carries the WebDAV mirror backend settings.
type WebDAVConfig struct {
	Endpoint string
	User     string
	Password string
	Root     string
}

// AppConfig captures runtime configuration for the notes backend.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	AttachmentsDir string
	LogLevel       string
	DeviceKey      string
	SigningSecret  string
	MirrorBackend  string
	MirrorS3       S3Config
	MirrorWebDAV   WebDAVConfig
	SweepInterval  time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("attachments.dir", defaultAttachmentsDir)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("mirror.backend", defaultMirrorBackend)
	configViper.SetDefault("mirror.s3.prefix", "notes")
	configViper.SetDefault("mirror.webdav.root", "notes")
	configViper.SetDefault("tasks.sweep_interval", defaultSweepInterval)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		AttachmentsDir: configViper.GetString("attachments.dir"),
		LogLevel:       configViper.GetString("log.level"),
		DeviceKey:      configViper.GetString("auth.device_key"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		MirrorBackend:  strings.ToLower(strings.TrimSpace(configViper.GetString("mirror.backend"))),
		MirrorS3: S3Config{
			Region:          configViper.GetString("mirror.s3.region"),
			Bucket:          configViper.GetString("mirror.s3.bucket"),
			AccessKeyID:     configViper.GetString("mirror.s3.access_key_id"),
			AccessKeySecret: configViper.GetString("mirror.s3.access_key_secret"),
			Prefix:          configViper.GetString("mirror.s3.prefix"),
			Endpoint:        configViper.GetString("mirror.s3.endpoint"),
		},
		MirrorWebDAV: WebDAVConfig{
			Endpoint: configViper.GetString("mirror.webdav.endpoint"),
			User:     configViper.GetString("mirror.webdav.user"),
			Password: configViper.GetString("mirror.webdav.password"),
			Root:     configViper.GetString("mirror.webdav.root"),
		},
		SweepInterval: configViper.GetDuration("tasks.sweep_interval"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.AttachmentsDir) == "" {
		return fmt.Errorf("attachments.dir is required")
	}
	if strings.TrimSpace(c.DeviceKey) == "" {
		return fmt.Errorf("auth.device_key is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}

	switch c.MirrorBackend {
	case MirrorBackendMemory:
	case MirrorBackendS3:
		if c.MirrorS3.Bucket == "" || c.MirrorS3.Region == "" {
			return fmt.Errorf("mirror.s3.bucket and mirror.s3.region are required for the s3 backend")
		}
	case MirrorBackendWebDAV:
		if c.MirrorWebDAV.Endpoint == "" {
			return fmt.Errorf("mirror.webdav.endpoint is required for the webdav backend")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMirror, c.MirrorBackend)
	}

	if c.SweepInterval <= 0 {
		return fmt.Errorf("tasks.sweep_interval must be positive")
	}

	return nil
}
