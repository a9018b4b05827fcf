package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server  ServerConfig  `envPrefix:"SERVER_"`
	ChatAPI ChatAPIConfig `envPrefix:"CHAT_API_"`
	Stream  StreamConfig  `envPrefix:"STREAM_"`
	Watch   WatchConfig   `envPrefix:"WATCH_"`
}

// ServerConfig is the local status/ops HTTP server.
type ServerConfig struct {
	Addr string `env:"ADDR" envDefault:"0.0.0.0:8081"`
}

// ChatAPIConfig is the REST collaborator: history fetch, send, upload.
type ChatAPIConfig struct {
	BaseURL        string        `env:"BASE_URL" envDefault:"http://localhost:8000"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	HistoryDays    int           `env:"HISTORY_DAYS" envDefault:"2"`
	HistoryLimit   int           `env:"HISTORY_LIMIT" envDefault:"50"`
}

// StreamConfig tunes the per-channel WebSocket session.
type StreamConfig struct {
	BaseURL           string        `env:"BASE_URL" envDefault:"ws://localhost:8000"`
	DialTimeout       time.Duration `env:"DIAL_TIMEOUT" envDefault:"15s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	// PongWait bounds silence on the wire; 2.5 heartbeat intervals by default
	PongWait      time.Duration `env:"PONG_WAIT" envDefault:"75s"`
	AutoReconnect bool          `env:"AUTO_RECONNECT" envDefault:"true"`
	BackoffMin    time.Duration `env:"BACKOFF_MIN" envDefault:"1s"`
	BackoffMax    time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`
}

// WatchConfig lists channels the daemon opens on start.
type WatchConfig struct {
	Channels []int64 `env:"CHANNELS" envSeparator:","`
	Token    string  `env:"TOKEN"`
	UserID   int64   `env:"USER_ID"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
