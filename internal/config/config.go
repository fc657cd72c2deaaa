// Package config loads engine configuration from YAML. The conversation
// runtime constructs one Config at startup and hands the relevant
// sub-configs to each component.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "30s" or "2m".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all acquisition-engine configuration.
type Config struct {
	// LLM provider used by the LLM engine and the refinement loop.
	LLM LLMConfig `yaml:"llm"`

	// NER model service.
	NER NERConfig `yaml:"ner"`

	// Address-parsing backend.
	AddressParser AddressParserConfig `yaml:"address_parser"`

	// Extractor/binding/feedback store.
	Store StoreConfig `yaml:"store"`

	// Registry cache and reload behavior.
	Registry RegistryConfig `yaml:"registry"`

	// Pattern refinement loop.
	Refine RefineConfig `yaml:"refine"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Timeout     Duration `yaml:"timeout"`
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
}

// NERConfig configures the entity model service.
type NERConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// AddressParserConfig configures the address-parsing backend.
type AddressParserConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// StoreConfig configures SQLite persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RegistryConfig configures extractor resolution.
type RegistryConfig struct {
	// CacheSize bounds the resolved-extractor cache. Entries never expire;
	// only an explicit Reload invalidates them.
	CacheSize int `yaml:"cache_size"`

	// WatchDir, when set, enables the fsnotify watcher that triggers a
	// registry reload whenever files under the directory change.
	WatchDir string `yaml:"watch_dir"`

	// FallbackLocale is the last resort of the locale fallback chain.
	FallbackLocale string `yaml:"fallback_locale"`
}

// RefineConfig configures the pattern refinement loop.
type RefineConfig struct {
	// MaxExamples caps how many pass/fail examples go into the
	// regeneration prompt.
	MaxExamples int `yaml:"max_examples"`

	// BatteryParallelism bounds concurrent test-case evaluation when
	// gating a regenerated candidate.
	BatteryParallelism int `yaml:"battery_parallelism"`
}

// Default returns a Config with working defaults for everything except
// credentials and endpoints.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:       "gemini-2.0-flash",
			Timeout:     Duration(30 * time.Second),
			MaxTokens:   1024,
			Temperature: 0,
		},
		NER: NERConfig{
			Timeout: Duration(10 * time.Second),
		},
		AddressParser: AddressParserConfig{
			Timeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Path: "acquisition.db",
		},
		Registry: RegistryConfig{
			CacheSize:      256,
			FallbackLocale: "en",
		},
		Refine: RefineConfig{
			MaxExamples:        20,
			BatteryParallelism: 4,
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
