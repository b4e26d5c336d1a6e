package config

import "fmt"

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}

func (c *LoggingConfig) applyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

func (c *LoggingConfig) validate() []string {
	var issues []string
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not debug, info, warn, or error", c.Level))
	}
	switch c.Format {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q is not json or text", c.Format))
	}
	return issues
}

// TracingConfig controls OpenTelemetry trace export. Disabled unless
// an endpoint is configured.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

func (c *TracingConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "toolgate"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}
