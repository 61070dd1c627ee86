package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetflow/pkg/faults"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.True(t, cfg.Production)
	assert.Equal(t, []string{"last 5 versions"}, cfg.Browsers)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.False(t, cfg.Server.Notify)
	assert.Equal(t, filepath.Join(dir, "dist"), cfg.Server.BaseDir)
	assert.Equal(t, filepath.Join(dir, "dist"), cfg.DistDir())
	assert.True(t, cfg.Favicon.Icons.Favicons)
	assert.True(t, cfg.Favicon.Icons.Android)
	assert.True(t, cfg.Favicon.Icons.AppleIcon)
	assert.False(t, cfg.Favicon.Icons.AppleStartup)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, []string{"npx", "postcss", "--use", "autoprefixer"}, cfg.Prefixer.Command)
	assert.Equal(t, dir, cfg.Root)
	assert.Empty(t, cfg.File)
	assert.Empty(t, cfg.Layout)
	assert.True(t, filepath.IsAbs(cfg.CacheDir))
}

func TestLoad_PrefixerCanBeTurnedOff(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "prefixer:\n  command: []\n")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Empty(t, cfg.Prefixer.Command)
}

func TestLoad_NearestFileWins(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "production: false\nserver:\n  port: 5000\n")
	writeFile(t, filepath.Join(root, "site", FileName), "server:\n  port: 6000\n  notify: true\n")
	start := filepath.Join(root, "site", "src", "deep")
	require.NoError(t, os.MkdirAll(start, 0o755))

	cfg, err := Load(start, "")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "site", FileName), cfg.File)
	assert.Equal(t, filepath.Join(root, "site"), cfg.Root)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.True(t, cfg.Server.Notify)
	// Only the nearest file is read
	assert.True(t, cfg.Production)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "production: true\n")
	t.Setenv("ASSETFLOW_PRODUCTION", "false")
	t.Setenv("ASSETFLOW_SERVER_PORT", "4100")
	t.Setenv("ASSETFLOW_DEPLOY_SECRET_KEY", "s3cr3t")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.False(t, cfg.Production)
	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "s3cr3t", cfg.Deploy.SecretKey)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "conf", "site.yaml"), "cache_dir: .cache\nbrowsers: [\"> 1%\"]\n")

	cfg, err := Load(dir, filepath.Join("conf", "site.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "conf", ".cache"), cfg.CacheDir)
	assert.Equal(t, []string{"> 1%"}, cfg.Browsers)

	_, err = Load(dir, "missing.yaml")
	assert.True(t, errors.Is(err, faults.ErrConfiguration))
}

func TestLoad_InvalidPort(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "server:\n  port: 70000\n")

	_, err := Load(dir, "")
	assert.True(t, errors.Is(err, faults.ErrConfiguration))
}

func TestLoad_PicksUpLayoutFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), "log:\n  level: debug\n")
	writeFile(t, filepath.Join(dir, LayoutFileName), "")

	cfg, err := Load(dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, LayoutFileName), cfg.Layout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", FileName), "")
	start := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(start, 0o755))

	assert.Equal(t, filepath.Join(root, "a", FileName), Find(start, FileName))
	assert.Empty(t, Find(start, "nothing-here.yaml"))
}
