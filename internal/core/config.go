package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/thumbcaption/internal/backend/imageprocessing"
	"github.com/jo-hoe/thumbcaption/internal/common"
)

const (
	defaultPort             = 8080
	defaultLogLevel         = "info"
	defaultDatabaseType     = "sqlite"
	defaultConnectionString = "thumbcaption.db"
	defaultMaxUploadBytes   = 10 << 20
	defaultCaptionerTimeout = 60 * time.Second
	defaultQueueWorkers     = 2
	defaultQueueCapacity    = 64
	defaultQueueName        = "captions"
	defaultTrackerTTL       = 7 * 24 * time.Hour

	BackendMemory = "memory"
	BackendAsynq  = "asynq"
	BackendRedis  = "redis"
)

type Database struct {
	Type             string `yaml:"type" validate:"required,oneof=sqlite"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Upload struct {
	MaxBytes  int64 `yaml:"maxBytes" validate:"min=1"`
	MaxPixels int64 `yaml:"maxPixels" validate:"min=1"`
}

type Captioner struct {
	Type    string        `yaml:"type" validate:"oneof=builtin http"`
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

type Queue struct {
	Backend   string `yaml:"backend" validate:"oneof=memory asynq"`
	Workers   int    `yaml:"workers" validate:"min=1"`
	Capacity  int    `yaml:"capacity" validate:"min=1"`
	QueueName string `yaml:"queueName" validate:"required"`
	Redis     Redis  `yaml:"redis"`
}

type TaskTracker struct {
	Backend string        `yaml:"backend" validate:"oneof=memory redis"`
	TTL     time.Duration `yaml:"ttl" validate:"min=0"`
}

type ServiceConfig struct {
	Port          int         `yaml:"port" validate:"min=1,max=65535"`
	PublicBaseURL string      `yaml:"publicBaseURL" validate:"required,url"`
	LogLevel      string      `yaml:"logLevel" validate:"oneof=debug info warn error"`
	Database      Database    `yaml:"database"`
	Upload        Upload      `yaml:"upload"`
	Captioner     Captioner   `yaml:"captioner"`
	Queue         Queue       `yaml:"queue"`
	TaskTracker   TaskTracker `yaml:"taskTracker"`
}

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return &config, nil
}

// ApplyDefaults fills every unset field with its default value.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	c.PublicBaseURL = strings.TrimRight(c.PublicBaseURL, "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}

	if c.Database.Type == "" {
		c.Database.Type = defaultDatabaseType
	}
	if c.Database.ConnectionString == "" {
		c.Database.ConnectionString = defaultConnectionString
	}

	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = defaultMaxUploadBytes
	}
	if c.Upload.MaxPixels == 0 {
		c.Upload.MaxPixels = imageprocessing.DefaultMaxPixels
	}

	if c.Captioner.Type == "" {
		c.Captioner.Type = "builtin"
	}
	if c.Captioner.Timeout == 0 {
		c.Captioner.Timeout = defaultCaptionerTimeout
	}

	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendMemory
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = defaultQueueWorkers
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = defaultQueueCapacity
	}
	if c.Queue.QueueName == "" {
		c.Queue.QueueName = defaultQueueName
	}

	if c.TaskTracker.Backend == "" {
		c.TaskTracker.Backend = BackendMemory
	}
	if c.TaskTracker.TTL == 0 {
		c.TaskTracker.TTL = defaultTrackerTTL
	}
}

// Validate checks struct tags and the rules that span several fields.
func (c *ServiceConfig) Validate() error {
	if err := common.ValidateStruct(c); err != nil {
		return err
	}
	if c.Captioner.Type == "http" && c.Captioner.URL == "" {
		return fmt.Errorf("captioner.url is required for the http captioner")
	}
	if c.needsRedis() && c.Queue.Redis.Addr == "" {
		return fmt.Errorf("queue.redis.addr is required for the %s queue and %s task tracker",
			c.Queue.Backend, c.TaskTracker.Backend)
	}
	return nil
}

func (c *ServiceConfig) needsRedis() bool {
	return c.Queue.Backend == BackendAsynq || c.TaskTracker.Backend == BackendRedis
}
