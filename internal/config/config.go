package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	SourceWebsocket = "websocket"
	SourceKafka     = "kafka"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Publish  PublishConfig  `mapstructure:"publish"`
}

type ServerConfig struct {
	APIAddr     string `mapstructure:"api_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type StreamConfig struct {
	Source    string          `mapstructure:"source"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type WebsocketConfig struct {
	URL         string        `mapstructure:"url"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	MinBackoff  time.Duration `mapstructure:"min_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type IngestConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

type PublishConfig struct {
	RepoURL string `mapstructure:"repo_url"`
}

type ResolverConfig struct {
	DirectoryURL string        `mapstructure:"directory_url"`
	TTL          time.Duration `mapstructure:"ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("statusfeed")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
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
	v.SetDefault("server.api_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("stream.source", SourceWebsocket)
	v.SetDefault("stream.websocket.min_backoff", "500ms")
	v.SetDefault("stream.websocket.max_backoff", "30s")
	v.SetDefault("ingest.queue_capacity", 256)
	v.SetDefault("resolver.ttl", "5m")
	v.SetDefault("resolver.timeout", "3s")
}

func (c Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	switch c.Stream.Source {
	case SourceWebsocket:
		if c.Stream.Websocket.URL == "" {
			return fmt.Errorf("stream.websocket.url is required")
		}
	case SourceKafka:
		if len(c.Stream.Kafka.Brokers) == 0 {
			return fmt.Errorf("stream.kafka.brokers is required")
		}
		if c.Stream.Kafka.Topic == "" {
			return fmt.Errorf("stream.kafka.topic is required")
		}
		if c.Stream.Kafka.GroupID == "" {
			return fmt.Errorf("stream.kafka.group_id is required")
		}
	default:
		return fmt.Errorf("unsupported stream source %q", c.Stream.Source)
	}
	if c.Resolver.DirectoryURL == "" {
		return fmt.Errorf("resolver.directory_url is required")
	}
	if c.Publish.RepoURL == "" {
		return fmt.Errorf("publish.repo_url is required")
	}
	return nil
}
