package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// 支持的存储驱动名。
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver 表示配置了不支持的驱动名，重试无意义。
var ErrUnknownDriver = errors.New("store: unknown driver")

// Config 描述存储层配置。
type Config struct {
	// Driver 取值见 Driver* 常量，默认 memory。
	Driver string `mapstructure:"driver" yaml:"driver" json:"driver"`
	// Path 为 badger 目录或 sqlite 文件路径。
	Path string `mapstructure:"path" yaml:"path" json:"path"`
	// DSN 为 postgres 连接串。
	DSN string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
}

// Open 按配置打开存储，返回的 Store 已带有指标与错误归类。
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		s   Store
		err error
	)
	switch driver {
	case "", DriverMemory:
		driver = DriverMemory
		s = NewMemoryStore()
	case DriverBadger:
		s, err = OpenBadger(cfg.Path)
	case DriverSQLite:
		s, err = OpenSQLite(ctx, cfg.Path)
	case DriverPostgres:
		s, err = OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "%q", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %s", driver)
	}
	return Instrument(s, driver), nil
}
