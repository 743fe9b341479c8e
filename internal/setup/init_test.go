package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/observatory/internal/hardware/serialmount"
	"github.com/msageha/observatory/internal/safety"
	"github.com/msageha/observatory/internal/scheduler"
)

func initProject(t *testing.T, name string) (projectDir, base string) {
	t.Helper()
	projectDir = filepath.Join(t.TempDir(), "mauna-loa")
	require.NoError(t, os.Mkdir(projectDir, 0755))
	require.NoError(t, Run(projectDir, name))
	return projectDir, filepath.Join(projectDir, DirName)
}

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	_, base := initProject(t, "")

	for _, d := range []string{"state", "locks", "logs", "images"} {
		info, err := os.Stat(filepath.Join(base, d))
		if assert.NoError(t, err, d) {
			assert.True(t, info.IsDir(), "%s is not a directory", d)
		}
	}
}

func TestRun_TemplatesParse(t *testing.T) {
	_, base := initProject(t, "")

	fields, err := scheduler.LoadFields(filepath.Join(base, "fields.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, fields)
	for _, f := range fields {
		_, err := f.Build()
		assert.NoError(t, err, f.Name)
	}

	_, err = serialmount.LoadCommandTable(filepath.Join(base, "mount_commands.yaml"))
	assert.NoError(t, err)

	rec, err := safety.ReadWeather(filepath.Join(base, "weather.yaml"))
	require.NoError(t, err)
	assert.False(t, rec.Safe)
}

func TestRun_AutoFillsConfig(t *testing.T) {
	projectDir, base := initProject(t, "")

	cfg, err := LoadConfig(base)
	require.NoError(t, err)
	assert.Equal(t, "mauna-loa", cfg.Observatory.Name)
	assert.Equal(t, projectDir, cfg.Observatory.Root)
	assert.NotEmpty(t, cfg.Observatory.Created)
	assert.Equal(t, "simulator", cfg.Hardware.Mount.Backend)
	assert.Equal(t, "fields.yaml", cfg.Scheduler.FieldsFile)
}

func TestRun_NameOverride(t *testing.T) {
	_, base := initProject(t, "Kitt Peak 0.9m")

	cfg, err := LoadConfig(base)
	require.NoError(t, err)
	assert.Equal(t, "Kitt Peak 0.9m", cfg.Observatory.Name)
}

func TestRun_RejectsExistingDir(t *testing.T) {
	projectDir, _ := initProject(t, "")
	err := Run(projectDir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestFindDir(t *testing.T) {
	projectDir, base := initProject(t, "")
	nested := filepath.Join(projectDir, "nights", "2026-01-15")
	require.NoError(t, os.MkdirAll(nested, 0755))

	assert.Equal(t, base, FindDir(projectDir))
	assert.Equal(t, base, FindDir(nested))
	assert.Equal(t, "", FindDir(t.TempDir()))
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(dir)
	assert.ErrorContains(t, err, "read config.yaml")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("location: [unclosed"), 0644))
	_, err = LoadConfig(dir)
	assert.ErrorContains(t, err, "parse config.yaml")
}
