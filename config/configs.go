package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Listen  string `yaml:"listen"`
	GinMode string `yaml:"gin_mode"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres / mysql / sqlite
	DSN      string `yaml:"dsn"`    // 不为空时直接使用
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	Dbname   string `yaml:"dbname"`
	LogLevel string `yaml:"log_level"` // silent / error / warn / info
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default 默认配置，本地 sqlite 即可运行
func Default() Config {
	return Config{
		Server:   ServerConfig{Listen: ":8181", GinMode: "release"},
		Database: DatabaseConfig{Driver: "sqlite", Dbname: "geoversion.db", LogLevel: "warn"},
		Log:      LogConfig{Level: "info", MaxSize: 10, MaxBackups: 3, MaxAge: 30},
		Kafka:    KafkaConfig{Topic: "geoversion.merge-requests"},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load 读取 yaml 配置文件，path 为空时只使用默认值和环境变量
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	switch cfg.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return cfg, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8181"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GEOVERSION_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("GEOVERSION_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("GEOVERSION_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("GEOVERSION_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// BuildDSN 按驱动拼接连接串
func (d DatabaseConfig) BuildDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC", d.Host, d.Username, d.Password, d.Dbname, d.Port)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC", d.Username, d.Password, d.Host, d.Port, d.Dbname)
	default:
		return d.Dbname
	}
}
