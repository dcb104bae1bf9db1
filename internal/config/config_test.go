package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.TimePerQuestion != 30 {
		t.Errorf("time per question = %d, want 30", cfg.TimePerQuestion)
	}
	if cfg.AnswerTimeoutGraceMS != 500 {
		t.Errorf("answer grace = %d, want 500", cfg.AnswerTimeoutGraceMS)
	}
	if cfg.HeartbeatInterval() != 15*time.Second {
		t.Errorf("heartbeat interval = %s, want 15s", cfg.HeartbeatInterval())
	}
	if cfg.GracePeriod() != 30*time.Second {
		t.Errorf("grace period = %s, want 30s", cfg.GracePeriod())
	}
	if cfg.ReconnectWindow() != 60*time.Second {
		t.Errorf("reconnect window = %s, want 60s", cfg.ReconnectWindow())
	}
	if cfg.JoinLockGrace() != 5*time.Second {
		t.Errorf("join lock grace = %s, want 5s", cfg.JoinLockGrace())
	}
	if cfg.MegaQuizSingleSegment != "remix" {
		t.Errorf("single segment mode = %q, want remix", cfg.MegaQuizSingleSegment)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizwire.yaml")
	content := "addr: \":9090\"\ntime_per_question: 20\nmega_quiz_single_segment_mode: skip\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Addr)
	}
	if cfg.TimePerQuestion != 20 {
		t.Errorf("time per question = %d, want 20", cfg.TimePerQuestion)
	}
	if cfg.MegaQuizSingleSegment != "skip" {
		t.Errorf("single segment mode = %q, want skip", cfg.MegaQuizSingleSegment)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"TIME_PER_QUESTION", "45")
	t.Setenv(EnvPrefix+"ADDR", ":7000")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TimePerQuestion != 45 {
		t.Errorf("time per question = %d, want 45", cfg.TimePerQuestion)
	}
	if cfg.Addr != ":7000" {
		t.Errorf("addr = %q, want :7000", cfg.Addr)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "sk-test")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Errorf("api key not loaded from env")
	}
	for _, w := range warnings {
		if strings.Contains(w, "OpenAI API key") {
			t.Errorf("unexpected warning with key set: %s", w)
		}
	}
}

func TestValidateRepairsBadValues(t *testing.T) {
	t.Setenv(EnvPrefix+"MEGA_QUIZ_SINGLE_SEGMENT_MODE", "shuffle")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MegaQuizSingleSegment != "remix" {
		t.Errorf("invalid mode should fall back to remix, got %q", cfg.MegaQuizSingleSegment)
	}

	found := false
	for _, w := range warnings {
		if strings.Contains(w, "mega_quiz_single_segment_mode") {
			found = true
		}
	}
	if !found {
		t.Error("expected a warning about the invalid mode")
	}
}
