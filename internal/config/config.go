package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all quizwire environment variables.
const EnvPrefix = "QUIZWIRE_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`

	TimePerQuestion        int    `yaml:"time_per_question"`
	AnswerTimeoutGraceMS   int    `yaml:"answer_timeout_grace_ms"`
	HeartbeatIntervalS     int    `yaml:"heartbeat_interval_s"`
	GracePeriodS           int    `yaml:"grace_period_s"`
	ReconnectWindowS       int    `yaml:"reconnect_window_s"`
	JoinLockGraceS         int    `yaml:"join_lock_grace_s"`
	EventResumeDebounceS   int    `yaml:"event_resume_debounce_s"`
	SegmentResumeDebounceS int    `yaml:"segment_resume_debounce_s"`
	MegaQuizSingleSegment  string `yaml:"mega_quiz_single_segment_mode"`

	OpenAIModel string `yaml:"openai_model"`

	// Secrets, env vars only, never serialized to YAML.
	OpenAIAPIKey string `yaml:"-"`
}

func defaults() Config {
	return Config{
		Addr:                   ":8080",
		DBPath:                 "data/quizwire.db",
		TimePerQuestion:        30,
		AnswerTimeoutGraceMS:   500,
		HeartbeatIntervalS:     15,
		GracePeriodS:           30,
		ReconnectWindowS:       60,
		JoinLockGraceS:         5,
		EventResumeDebounceS:   2,
		SegmentResumeDebounceS: 2,
		MegaQuizSingleSegment:  "remix",
		OpenAIModel:            "gpt-4o-mini",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// HeartbeatInterval returns the ping cadence for live connections.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalS) * time.Second
}

// GracePeriod returns how long a connection may go without a pong before it
// is marked temporarily disconnected.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodS) * time.Second
}

// ReconnectWindow returns the interval within which a dropped connection is
// treated as the same participant rather than a new one.
func (c *Config) ReconnectWindow() time.Duration {
	return time.Duration(c.ReconnectWindowS) * time.Second
}

// JoinLockGrace returns the window after a join lock during which in-flight
// join attempts are still admitted.
func (c *Config) JoinLockGrace() time.Duration {
	return time.Duration(c.JoinLockGraceS) * time.Second
}

// EventResumeDebounce returns the per-event resume debounce window.
func (c *Config) EventResumeDebounce() time.Duration {
	return time.Duration(c.EventResumeDebounceS) * time.Second
}

// SegmentResumeDebounce returns the per-segment resume debounce window.
func (c *Config) SegmentResumeDebounce() time.Duration {
	return time.Duration(c.SegmentResumeDebounceS) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
	if v := os.Getenv(EnvPrefix + "MEGA_QUIZ_SINGLE_SEGMENT_MODE"); v != "" {
		cfg.MegaQuizSingleSegment = strings.TrimSpace(v)
	}

	overrideInt(&cfg.TimePerQuestion, "TIME_PER_QUESTION")
	overrideInt(&cfg.AnswerTimeoutGraceMS, "ANSWER_TIMEOUT_GRACE_MS")
	overrideInt(&cfg.HeartbeatIntervalS, "HEARTBEAT_INTERVAL_S")
	overrideInt(&cfg.GracePeriodS, "GRACE_PERIOD_S")
	overrideInt(&cfg.ReconnectWindowS, "RECONNECT_WINDOW_S")
	overrideInt(&cfg.JoinLockGraceS, "JOIN_LOCK_GRACE_S")
	overrideInt(&cfg.EventResumeDebounceS, "EVENT_RESUME_DEBOUNCE_S")
	overrideInt(&cfg.SegmentResumeDebounceS, "SEGMENT_RESUME_DEBOUNCE_S")
}

func overrideInt(target *int, suffix string) {
	v := os.Getenv(EnvPrefix + suffix)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
		*target = n
	}
}

func loadSecrets(cfg *Config) {
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "OpenAI API key not configured, question generation is disabled. Set "+EnvPrefix+"OPENAI_API_KEY.")
	}
	if cfg.MegaQuizSingleSegment != "remix" && cfg.MegaQuizSingleSegment != "skip" {
		warnings = append(warnings, fmt.Sprintf("Invalid mega_quiz_single_segment_mode %q, using default remix.", cfg.MegaQuizSingleSegment))
		cfg.MegaQuizSingleSegment = "remix"
	}
	if cfg.TimePerQuestion <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid time_per_question %d, using default 30.", cfg.TimePerQuestion))
		cfg.TimePerQuestion = 30
	}
	if cfg.HeartbeatIntervalS <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid heartbeat_interval_s %d, using default 15.", cfg.HeartbeatIntervalS))
		cfg.HeartbeatIntervalS = 15
	}

	return warnings
}
