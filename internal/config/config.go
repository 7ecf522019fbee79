package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	DBPath        string        `mapstructure:"db_path"`
	Secret        string        `mapstructure:"secret"`
	Bus           string        `mapstructure:"bus"`
	ChatCapacity  int           `mapstructure:"chat_capacity"`
	VideoCapacity int           `mapstructure:"video_capacity"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	MsgRateLimit  int           `mapstructure:"msg_rate_limit"`
	MsgRateWindow time.Duration `mapstructure:"msg_rate_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("db_path", "relay.db")
	v.SetDefault("bus", "redis")
	v.SetDefault("chat_capacity", 10)
	v.SetDefault("video_capacity", 2)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("send_buffer", 32)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("msg_rate_limit", 20)
	v.SetDefault("msg_rate_window", "10s")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
