package config

import (
	"fmt"
	"time"
)

// Config represents a livepreview.yaml configuration file.
// All values are optional and act as defaults for livepreview run flags.
// CLI flags always override config values.
type Config struct {
	// Host is the ComfyUI server address, host:port.
	Host string `yaml:"host"`
	// Source labels the monitored engine instance in logs and storage.
	Source string `yaml:"source"`
	// Workflow is the path to the workflow JSON to queue on start.
	Workflow string `yaml:"workflow"`
	// Out is the record output path.
	Out string `yaml:"out"`
	// Format is the record encoding: json or msgpack.
	Format string `yaml:"format"`
	// PreviewOut is the path where the latest preview frame is mirrored.
	PreviewOut string `yaml:"preview_out"`
	// Report is the path for the sidecar run report ("-" for stderr).
	Report string `yaml:"report"`
	// Ignore lists control message types dropped before classification.
	Ignore []string `yaml:"ignore"`

	Timeouts TimeoutConfig `yaml:"timeouts"`
	Storage  StorageConfig `yaml:"storage"`
	Adapter  AdapterConfig `yaml:"adapter"`
}

// TimeoutConfig holds timeout defaults from the config file.
type TimeoutConfig struct {
	// Fetch bounds the post-success history fetch.
	Fetch Duration `yaml:"fetch,omitempty"`
	// Flush bounds the final record flush.
	Flush Duration `yaml:"flush,omitempty"`
}

// StorageConfig holds archive storage defaults from the config file.
// When Dataset is empty the archive is disabled and only the record file
// is written.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"` // fs or s3
	Path        string `yaml:"path"`    // fs root, or bucket[/prefix] for s3
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds adapter defaults from the config file.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // redis or webhook
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
