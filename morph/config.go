package morph

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the full configuration with standard values.
func DefaultConfig() *Config {
	return &Config{
		Transfer: DefaultTransferConfig(),
		Render: RenderConfig{
			Axis:       "xy",
			Format:     "svg",
			Resolution: 300,
		},
		Service: ServiceConfig{
			HTTPPort: 8080,
		},
	}
}

// LoadConfig loads the unified configuration from a YAML file. Omitted keys
// keep their defaults, so a config file only needs the values it changes.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Transfer.Validate(); err != nil {
		return nil, err
	}
	if config.Service.HTTPPort < 0 || config.Service.HTTPPort > 65535 {
		return nil, fmt.Errorf("config: httpPort %d out of range", config.Service.HTTPPort)
	}
	switch config.Render.Axis {
	case "", "xy", "xz", "yz":
	default:
		return nil, fmt.Errorf("config: render axis must be xy, xz or yz, got %q", config.Render.Axis)
	}
	switch config.Render.Format {
	case "", "svg", "png":
	default:
		return nil, fmt.Errorf("config: render format must be svg or png, got %q", config.Render.Format)
	}

	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
