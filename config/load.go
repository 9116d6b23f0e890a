package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Load reads an optional YAML file and then the environment. A missing file
// is not an error; env vars always win.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
