package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadYAMLConfig load config from filename in YAML format
func LoadYAMLConfig(filename string, cfg interface{}) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("ReadFile: %v", err)
	}
	err = yaml.Unmarshal(data, cfg)
	return err
}

// LoadConfig reads configPath over DefaultConfig. An empty path yields the validated defaults.
func LoadConfig(configPath string) (*Config, error) {
	conf := DefaultConfig()

	if configPath != "" {
		// configured sources replace the default capture device instead of merging with it
		conf.Sources = nil
		if err := LoadYAMLConfig(configPath, conf); err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		if len(conf.Sources) == 0 {
			conf.Sources = DefaultConfig().Sources
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return conf, nil
}
