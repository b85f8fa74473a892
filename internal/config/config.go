package config

import "time"

// StreamerConfig is the root configuration for a streamer instance.
type StreamerConfig struct {
	APIKey   string         `yaml:"api_key"`
	Markets  []MarketConfig `yaml:"markets"`
	Stream   StreamConfig   `yaml:"stream"`
	Database DatabaseConfig `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
}

// MarketConfig names one market feed to stream.
type MarketConfig struct {
	Name     string   `yaml:"name"`     // e.g. "stocks", "crypto"
	Endpoint string   `yaml:"endpoint"` // override; empty = real-time default
	Delayed  bool     `yaml:"delayed"`  // use the 15-min delayed endpoint
	Channels []string `yaml:"channels"` // e.g. ["T.AAPL", "Q.MSFT"]
}

// StreamConfig holds connection tuning shared by all market connections.
type StreamConfig struct {
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferCapacity       int           `yaml:"buffer_capacity"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = retry forever
}

// DatabaseConfig holds the optional TimescaleDB sink for trades.
type DatabaseConfig struct {
	Enabled bool     `yaml:"enabled"`
	DB      DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}
