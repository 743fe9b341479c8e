// Package setup creates and locates the .observatory/ directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/observatory/internal/model"
	atomicyaml "github.com/msageha/observatory/internal/yaml"
	"github.com/msageha/observatory/templates"
)

// DirName is the per-site directory holding configuration and runtime state.
const DirName = ".observatory"

// Run initializes the .observatory/ directory structure in projectDir.
// name overrides the observatory name (defaults to the directory basename).
func Run(projectDir, name string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DirName)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{"state", "locks", "logs", "images"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	for _, name := range []string{"fields.yaml", "mount_commands.yaml", "weather.yaml"} {
		if err := copyTemplateFile(name, filepath.Join(base, name)); err != nil {
			return err
		}
	}

	cfg, err := generateConfig(absDir, name)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

func generateConfig(projectDir, name string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if name != "" {
		cfg.Observatory.Name = name
	} else {
		cfg.Observatory.Name = filepath.Base(projectDir)
	}
	cfg.Observatory.Root = projectDir
	cfg.Observatory.Created = time.Now().Format(time.RFC3339)
	return &cfg, nil
}

// FindDir searches for .observatory/ in start and its ancestors. It returns
// "" when there is none.
func FindDir(start string) string {
	dir := start
	for {
		candidate := filepath.Join(dir, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadConfig reads config.yaml from baseDir.
func LoadConfig(baseDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, "config.yaml"))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config.yaml: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config.yaml: %w", err)
	}
	return cfg, nil
}
