package application

import (
	"fmt"
	"time"

	"github.com/lk2023060901/privchat-go/internal/httpapi"
	"github.com/lk2023060901/privchat-go/internal/network/acceptor"
	"github.com/lk2023060901/privchat-go/internal/relay"
	"github.com/lk2023060901/privchat-go/internal/store"
	zviper "github.com/lk2023060901/privchat-go/pkg/util/viper"
)

// DefaultPort 为未配置 PORT 时的监听端口。
const DefaultPort = 5001

// Config 为进程级配置，对应配置文件的顶层结构。
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	HTTP     httpapi.Config `mapstructure:"http" yaml:"http"`
	Acceptor AcceptorConfig `mapstructure:"acceptor" yaml:"acceptor"`
	Relay    relay.Config   `mapstructure:"relay" yaml:"relay"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
}

// ServerConfig 描述 HTTP 监听与停机参数。
type ServerConfig struct {
	Port              int           `mapstructure:"port" yaml:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr 返回 ":PORT" 形式的监听地址。
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AcceptorConfig 为 WebSocket 接入的可配置部分。
type AcceptorConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	SendQueueSize  int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	RecvQueueSize  int           `mapstructure:"recv_queue_size" yaml:"recv_queue_size"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
	ProtocolRange  string        `mapstructure:"protocol_range" yaml:"protocol_range"`
}

// Build 转换为 acceptor.Config，WebSocket 的来源校验与 CORS 共用 origins。
func (c AcceptorConfig) Build(origins []string) acceptor.Config {
	return acceptor.Config{
		Path:           c.Path,
		SendQueueSize:  c.SendQueueSize,
		RecvQueueSize:  c.RecvQueueSize,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		PingInterval:   c.PingInterval,
		MaxMessageSize: c.MaxMessageSize,
		AllowedOrigins: origins,
		ProtocolRange:  c.ProtocolRange,
	}
}

// StoreConfig 在 store.Config 之外增加启动阶段的重试参数。
type StoreConfig struct {
	store.Config `mapstructure:",squash" yaml:",inline"`
	// OpenAttempts 为打开存储的最大尝试次数。
	OpenAttempts uint `mapstructure:"open_attempts" yaml:"open_attempts"`
}

// registerDefaults 登记默认值与环境变量覆盖。
func registerDefaults(c *zviper.Config) error {
	ac := acceptor.DefaultConfig()
	rc := relay.DefaultConfig()

	c.SetDefault("server.port", DefaultPort)
	c.SetDefault("server.read_header_timeout", 10*time.Second)
	c.SetDefault("server.shutdown_timeout", 10*time.Second)

	c.SetDefault("http.allowed_origins", httpapi.DefaultAllowedOrigins)
	c.SetDefault("http.enable_pprof", false)

	c.SetDefault("acceptor.path", ac.Path)
	c.SetDefault("acceptor.send_queue_size", ac.SendQueueSize)
	c.SetDefault("acceptor.recv_queue_size", ac.RecvQueueSize)
	c.SetDefault("acceptor.read_timeout", ac.ReadTimeout)
	c.SetDefault("acceptor.write_timeout", ac.WriteTimeout)
	c.SetDefault("acceptor.ping_interval", ac.PingInterval)
	c.SetDefault("acceptor.max_message_size", ac.MaxMessageSize)
	c.SetDefault("acceptor.protocol_range", ac.ProtocolRange)

	c.SetDefault("relay.presence_policy", rc.PresencePolicy)
	c.SetDefault("relay.store_pool_size", rc.StorePoolSize)
	c.SetDefault("relay.store_timeout", rc.StoreTimeout)

	c.SetDefault("store.driver", store.DriverMemory)
	c.SetDefault("store.path", "")
	c.SetDefault("store.dsn", "")
	c.SetDefault("store.open_attempts", 5)

	envs := map[string][]string{
		"server.port":           {"PORT"},
		"store.driver":          {"PRIVCHAT_STORE_DRIVER"},
		"store.dsn":             {"PRIVCHAT_STORE_DSN", "DATABASE_URL"},
		"store.path":            {"PRIVCHAT_STORE_PATH"},
		"http.allowed_origins":  {"PRIVCHAT_ALLOWED_ORIGINS"},
		"relay.presence_policy": {"PRIVCHAT_PRESENCE_POLICY"},
	}
	for key, names := range envs {
		if err := c.BindEnv(key, names...); err != nil {
			return fmt.Errorf("bind env for %q: %w", key, err)
		}
	}
	return nil
}
