package viper

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Server struct {
		Addr    string        `mapstructure:"addr"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"server"`
	Origins []string `mapstructure:"origins"`
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  addr: ":6001"
  timeout: 3s
origins:
  - http://localhost:3000
`)
	c := New()
	require.NoError(t, c.LoadFile(path))

	var s sample
	require.NoError(t, c.Unmarshal(&s))
	assert.Equal(t, ":6001", s.Server.Addr)
	assert.Equal(t, 3*time.Second, s.Server.Timeout)
	assert.Equal(t, []string{"http://localhost:3000"}, s.Origins)
}

func TestLoadJSONAndUnmarshalKey(t *testing.T) {
	path := writeFile(t, "config.json", `{"server":{"addr":":7001"}}`)
	c := New()
	require.NoError(t, c.LoadFile(path))

	var server map[string]any
	require.NoError(t, c.UnmarshalKey("server", &server))
	assert.Equal(t, ":7001", server["addr"])
}

func TestLoadMissingFile(t *testing.T) {
	c := New()
	assert.Error(t, c.LoadFile(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestDefaultsAndEnv(t *testing.T) {
	c := New()
	c.SetDefault("server.addr", ":5001")
	c.SetDefault("server.timeout", "1s")

	var s sample
	require.NoError(t, c.Unmarshal(&s))
	assert.Equal(t, ":5001", s.Server.Addr)
	assert.Equal(t, time.Second, s.Server.Timeout)

	t.Setenv("VIPER_TEST_ADDR", ":9999")
	require.NoError(t, c.BindEnv("server.addr", "VIPER_TEST_ADDR"))
	assert.Equal(t, ":9999", c.GetString("server.addr"))

	c.Set("server.addr", ":1")
	assert.Equal(t, ":1", c.GetString("server.addr"))
	assert.True(t, c.IsSet("server.addr"))
}
