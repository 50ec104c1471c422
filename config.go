package wsbridge

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultCloseTimeout     = 60 * time.Second
	DefaultSendQueueSize    = 256
	DefaultServerAddr       = "127.0.0.1:8787"
	DefaultServerPath       = "/bridge"
	DefaultServerReadLimit  = 1 << 20
)

type (
	// Config is shared by every connection. Per-connection overrides travel in ConnectRequest.
	Config struct {
		Dialer      DialerConfig `yaml:"dialer"`
		EvictClosed bool         `yaml:"evictClosed"`
		Server      ServerConfig `yaml:"server"`
		Log         LogConfig    `yaml:"log"`
	}

	DialerConfig struct {
		HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
		CloseTimeout      time.Duration `yaml:"closeTimeout"`
		PingInterval      time.Duration `yaml:"pingInterval"`
		EnableCompression bool          `yaml:"enableCompression"`
		ReadBufferSize    int           `yaml:"readBufferSize"`
		WriteBufferSize   int           `yaml:"writeBufferSize"`
		SendQueueSize     int           `yaml:"sendQueueSize"`
	}

	// ServerConfig configures the host endpoint. OriginPatterns lists browser origins allowed
	// besides the server's own host; ReadLimit caps one host command frame in bytes.
	ServerConfig struct {
		Addr           string   `yaml:"addr"`
		Path           string   `yaml:"path"`
		OriginPatterns []string `yaml:"originPatterns"`
		ReadLimit      int64    `yaml:"readLimit"`
	}

	LogConfig struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}
)

func DefaultConfig() Config {
	return Config{
		Dialer: DialerConfig{
			HandshakeTimeout:  DefaultHandshakeTimeout,
			CloseTimeout:      DefaultCloseTimeout,
			EnableCompression: true,
			SendQueueSize:     DefaultSendQueueSize,
		},
		Server: ServerConfig{
			Addr:      DefaultServerAddr,
			Path:      DefaultServerPath,
			ReadLimit: DefaultServerReadLimit,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys absent from the file keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "cannot read config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "cannot parse config %s", path)
	}

	cfg.normalize()

	return cfg, nil
}

// normalize replaces zero or negative values that would make the transport unusable.
func (c *Config) normalize() {
	if c.Dialer.HandshakeTimeout <= 0 {
		c.Dialer.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Dialer.CloseTimeout <= 0 {
		c.Dialer.CloseTimeout = DefaultCloseTimeout
	}
	if c.Dialer.PingInterval < 0 {
		c.Dialer.PingInterval = 0
	}
	if c.Dialer.SendQueueSize <= 0 {
		c.Dialer.SendQueueSize = DefaultSendQueueSize
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultServerPath
	}
	if c.Server.ReadLimit <= 0 {
		c.Server.ReadLimit = DefaultServerReadLimit
	}
}
