package application

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	zlog "github.com/lk2023060901/privchat-go/pkg/log"
	zviper "github.com/lk2023060901/privchat-go/pkg/util/viper"
)

const (
	defaultConfigPath = "./config.yaml"
	configPathEnv     = "PRIVCHAT_CONFIG_FILE_PATH"
)

// Application 持有进程配置与按模块命名的 Logger。
type Application struct {
	cfg     *Config
	raw     *zviper.Config
	loggers map[string]*zlog.MLogger
}

// New creates a new Application instance.
func New() *Application {
	return &Application{}
}

// Run 解析 os.Args 并加载配置。配置文件路径优先级：
//  1. 默认：./config.yaml（不存在时只使用内置默认值）
//  2. 环境变量：PRIVCHAT_CONFIG_FILE_PATH
//  3. 命令行：--config <path> 或 --config=<path>
//
// 进程工作目录下的 .env 会在解析前载入，已存在的环境变量不会被覆盖。
func (a *Application) Run() error {
	return a.run(os.Args[1:])
}

func (a *Application) run(args []string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}

	if err := a.loadConfig(args); err != nil {
		return err
	}
	return a.initLogging()
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *Config {
	return a.cfg
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

func resolveConfigPath(args []string) (path string, explicit bool, err error) {
	path = defaultConfigPath
	if envPath := os.Getenv(configPathEnv); envPath != "" {
		path, explicit = envPath, true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", false, fmt.Errorf("missing value after --config")
			}
			path, explicit = args[i+1], true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			path, explicit = val, true
		}
	}
	return path, explicit, nil
}

func (a *Application) loadConfig(args []string) error {
	path, explicit, err := resolveConfigPath(args)
	if err != nil {
		return err
	}

	raw := zviper.New()
	if err := registerDefaults(raw); err != nil {
		return err
	}

	if _, statErr := os.Stat(path); statErr == nil || explicit {
		if err := raw.LoadFile(path); err != nil {
			return fmt.Errorf("failed to load config file %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := raw.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Server.Port)
	}

	a.raw = raw
	a.cfg = cfg
	return nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	return a.initModuleLoggersFromConfig()
}

// initGlobalLoggerFromEnv 根据 PRIVCHAT_LOG_* 环境变量配置全局 Logger。
//
// 说明：
//   - PRIVCHAT_LOG_ENABLE：默认开启，设为 0/false 时丢弃全部输出；
//   - PRIVCHAT_LOG_LEVEL：默认 info；
//   - PRIVCHAT_LOG_STDOUT：默认 true；
//   - PRIVCHAT_LOG_FILE_DIR / PRIVCHAT_LOG_FILE：文件输出目录与文件名；
//   - PRIVCHAT_LOG_FORMAT：text 或 json，默认 text。
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool("PRIVCHAT_LOG_ENABLE", true)

	cfg := &zlog.Config{
		Level:               getenvDefault("PRIVCHAT_LOG_LEVEL", "info"),
		Format:              getenvDefault("PRIVCHAT_LOG_FORMAT", "text"),
		Stdout:              getenvBool("PRIVCHAT_LOG_STDOUT", true),
		DisableErrorVerbose: true,
		File: zlog.FileLogConfig{
			RootPath: getenvDefault("PRIVCHAT_LOG_FILE_DIR", ""),
			Filename: getenvDefault("PRIVCHAT_LOG_FILE", ""),
		},
	}
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init global logger from env: %w", err)
	}
	zlog.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggersFromConfig 按 logging 配置段创建命名 Logger，例如：
//
//	logging:
//	  relay:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: relay.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.raw == nil {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.raw.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return fmt.Errorf("init module logger %q: %w", name, err)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
