// Package config loads application configuration from file, environment, and
// defaults. The loaded value is passed explicitly to constructors; there is
// no process-wide singleton, which keeps the core testable without
// environment mutation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        App        `mapstructure:"app"`
	Feeds      Feeds      `mapstructure:"feeds"`
	Classifier Classifier `mapstructure:"classifier"`
	LLM        LLM        `mapstructure:"llm"`
	Curator    Curator    `mapstructure:"curator"`
	Email      Email      `mapstructure:"email"`
}

// App holds general application configuration.
type App struct {
	DataDir  string `mapstructure:"data_dir"` // Root for the metadata db and blob tree
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Feeds holds feed ingestion configuration.
type Feeds struct {
	File         string `mapstructure:"file"` // Path to the feed URL list, one per line
	MaxItems     int    `mapstructure:"max_items"`
	ProcessLimit int    `mapstructure:"process_limit"`
}

// Classifier holds the content-quality thresholds. These were tuned against
// real feed content; changing a default is a behavioral change that needs
// re-validation against a labeled sample.
type Classifier struct {
	MinContentLength      int     `mapstructure:"min_content_length"`
	MaxLinkRatio          float64 `mapstructure:"max_link_ratio"`
	PaywallQuorum         int     `mapstructure:"paywall_quorum"`
	WorthMinContentLength int     `mapstructure:"worth_min_content_length"`
	MaxPunctuationRatio   float64 `mapstructure:"max_punctuation_ratio"`
	MinSentences          int     `mapstructure:"min_sentences"`
	MinParagraphs         int     `mapstructure:"min_paragraphs"`
	WorthQuorum           int     `mapstructure:"worth_quorum"`
}

// LLM holds summarizer configuration.
type LLM struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	SummarizeLimit int    `mapstructure:"summarize_limit"`
}

// Curator holds newsletter selection defaults.
type Curator struct {
	MostRecent  int    `mapstructure:"most_recent"`
	NDays       int    `mapstructure:"n_days"`
	SummaryType string `mapstructure:"summary_type"`
}

// Email holds SMTP delivery configuration.
type Email struct {
	SMTPHost      string   `mapstructure:"smtp_host"`
	SMTPPort      int      `mapstructure:"smtp_port"`
	From          string   `mapstructure:"from"`
	Password      string   `mapstructure:"password"`
	Recipients    []string `mapstructure:"recipients"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

// Load reads configuration from the given file (or .curator.yaml in the
// working directory and $HOME when empty), layered under environment
// variables and a local .env file.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".curator")
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	bindEnvironmentVariables(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.App.DataDir = expandPath(config.App.DataDir)
	if err := validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.data_dir", ".curator-data")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_json", false)

	// Feed defaults
	v.SetDefault("feeds.file", "feeds.txt")
	v.SetDefault("feeds.max_items", 25)
	v.SetDefault("feeds.process_limit", 100)

	// Classifier defaults
	v.SetDefault("classifier.min_content_length", 100)
	v.SetDefault("classifier.max_link_ratio", 0.3)
	v.SetDefault("classifier.paywall_quorum", 2)
	v.SetDefault("classifier.worth_min_content_length", 500)
	v.SetDefault("classifier.max_punctuation_ratio", 0.05)
	v.SetDefault("classifier.min_sentences", 5)
	v.SetDefault("classifier.min_paragraphs", 3)
	v.SetDefault("classifier.worth_quorum", 3)

	// LLM defaults
	v.SetDefault("llm.model", "gemini-flash-lite-latest")
	v.SetDefault("llm.summarize_limit", 10)

	// Curator defaults
	v.SetDefault("curator.most_recent", 5)
	v.SetDefault("curator.summary_type", "brief")

	// Email defaults
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.subject_prefix", "")
}

func bindEnvironmentVariables(v *viper.Viper) {
	bindEnvKeys(v, "llm.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})
	bindEnvKeys(v, "email.smtp_host", []string{
		"SMTP_HOST",
		"EMAIL_SMTP_HOST",
	})
	bindEnvKeys(v, "email.from", []string{
		"SMTP_FROM",
		"EMAIL_SENDER",
	})
	bindEnvKeys(v, "email.password", []string{
		"SMTP_PASSWORD",
		"EMAIL_PASSWORD",
	})
	bindEnvKeys(v, "email.recipients", []string{
		"EMAIL_RECIPIENTS",
	})
}

// bindEnvKeys binds the first set environment variable to a config key.
func bindEnvKeys(v *viper.Viper, viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			v.Set(viperKey, value)
			return
		}
	}
}

func validate(config *Config) error {
	if config.App.DataDir == "" {
		return fmt.Errorf("app.data_dir must not be empty")
	}
	c := config.Classifier
	if c.PaywallQuorum < 1 || c.WorthQuorum < 1 {
		return fmt.Errorf("classifier quorums must be at least 1")
	}
	if c.MaxLinkRatio < 0 || c.MaxPunctuationRatio < 0 {
		return fmt.Errorf("classifier ratios must not be negative")
	}
	switch config.Curator.SummaryType {
	case "standard", "brief":
	default:
		return fmt.Errorf("curator.summary_type must be standard or brief, got %q", config.Curator.SummaryType)
	}
	return nil
}

// expandPath expands a leading ~ in paths.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
