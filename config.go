package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds server settings loaded from the optional YAML config file.
// Flags and FABTRACK_* env vars override file values.
type Config struct {
	Port        int    `yaml:"port"`
	DBPath      string `yaml:"db_path"`
	DrawingsDir string `yaml:"drawings_dir"`
	CompanyName string `yaml:"company_name"`
}

func defaultConfig() Config {
	return Config{
		Port:        9000,
		DBPath:      "fabtrack.db",
		DrawingsDir: "drawings",
		CompanyName: "Your Company",
	}
}

// loadConfig reads the YAML file at path into the defaults. A missing
// file is not an error; a malformed one is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays FABTRACK_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FABTRACK_COMPANY_NAME"); v != "" {
		c.CompanyName = v
	}
	if v := os.Getenv("FABTRACK_DRAWINGS_DIR"); v != "" {
		c.DrawingsDir = v
	}
}
