package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 是对 spf13/viper 的轻量封装。
//
// 说明：
//   - 文件类型通过扩展名（.yaml/.yml/.json）推断；
//   - 环境变量覆盖通过 BindEnv 显式登记，键名中的 "." 映射为 "_"；
//   - 未加载任何文件时，Unmarshal 只使用 SetDefault 登记的默认值与环境变量。
type Config struct {
	v *spfviper.Viper
}

func New() *Config {
	v := spfviper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return &Config{v: v}
}

// LoadFile 读取并解析配置文件。
func (c *Config) LoadFile(path string) error {
	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 交给 viper 自行推断，不支持的类型会在读取时报错。
	}

	return c.v.ReadInConfig()
}

// SetDefault 为 key 登记默认值，优先级最低。
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

// BindEnv 将 key 绑定到一个或多个环境变量，先出现的变量优先。
func (c *Config) BindEnv(key string, envs ...string) error {
	return c.v.BindEnv(append([]string{key}, envs...)...)
}

// Set 以最高优先级覆盖 key 的值。
func (c *Config) Set(key string, value any) {
	c.v.Set(key, value)
}

func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst interface{}) error {
	return c.v.Unmarshal(dst)
}

// dst 应为结构体或 map 的指针。
func (c *Config) UnmarshalKey(key string, dst interface{}) error {
	return c.v.UnmarshalKey(key, dst)
}
