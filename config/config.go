package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	TrackNumbers TrackNumbersConfig `yaml:"tracknumbers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	StatusTopicName    string `yaml:"status_topic_name"`
	AllocatedTopicName string `yaml:"allocated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TrackNumbersConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	MetricsNamespace   string `yaml:"metrics_namespace"`

	CurrentStatusTTLSeconds  int `yaml:"current_status_ttl_seconds"`
	CreateRateLimitPerMinute int `yaml:"create_rate_limit_per_minute"`

	// Bounds both the existence pre-check loop and insert conflict retries.
	MaxGenerationAttempts int `yaml:"max_generation_attempts"`

	WorkerHTTPAddr             string `yaml:"worker_http_addr"`
	WorkerIntervalSeconds      int    `yaml:"worker_interval_seconds"`
	WorkerBatchSize            int    `yaml:"worker_batch_size"`
	WorkerConcurrency          int    `yaml:"worker_concurrency"`
	WorkerOwnerWritesPerMinute int    `yaml:"worker_owner_writes_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// PostgresConnString builds a pgx connection string, defaulting sslmode to disable.
func (c DatabaseConfig) PostgresConnString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}
