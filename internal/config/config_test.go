package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "0.0.0.0:3004", cfg.Server.Addr())
	assert.Equal(t, "./data", cfg.Database.DataDir)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
  port: 9000
database:
  data_dir: /tmp/mechaway-test
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, "/tmp/mechaway-test", cfg.Database.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)

	// Environment wins over the file.
	t.Setenv("MECHAWAY_PORT", "9100")
	t.Setenv("MECHAWAY_DATA_DIR", "/tmp/other")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr())
	assert.Equal(t, "/tmp/other", cfg.Database.DataDir)
}

func TestLoad_BadPort(t *testing.T) {
	t.Setenv("MECHAWAY_PORT", "not-a-number")
	_, err := Load("")
	assert.Error(t, err)
}

func TestCipherKey(t *testing.T) {
	key, err := DatabaseConfig{}.CipherKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	_, err = DatabaseConfig{SecretKey: "zz"}.CipherKey()
	assert.Error(t, err)

	_, err = DatabaseConfig{SecretKey: "abcd"}.CipherKey()
	assert.Error(t, err, "wrong length")

	key, err = DatabaseConfig{SecretKey: "4242424242424242424242424242424242424242424242424242424242424242"}.CipherKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}
