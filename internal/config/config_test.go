package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	d := LoadDefaults()

	if d.Matcher.AcceptThreshold != 0.5 {
		t.Errorf("expected accept threshold 0.5, got %v", d.Matcher.AcceptThreshold)
	}
	if d.Matcher.AmbiguityEpsilon != 0.001 {
		t.Errorf("expected ambiguity epsilon 0.001, got %v", d.Matcher.AmbiguityEpsilon)
	}
	if d.Matcher.Index != "linear" {
		t.Errorf("expected linear index, got '%s'", d.Matcher.Index)
	}
	if d.Extractor.Backend != "remote" {
		t.Errorf("expected remote extractor, got '%s'", d.Extractor.Backend)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"FACE_EXTRACTOR", "FACE_ACCEPT_THRESHOLD", "FACE_AMBIGUITY_EPSILON", "FACE_INDEX",
		"EXTRACTION_TIMEOUT", "MAX_IMAGE_SIZE", "ENROLLMENT_BACKEND", "ENROLLMENT_FILE",
		"FACE_DESCRIPTOR_DIM", "WEB_PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Extractor.Backend != "remote" {
		t.Errorf("expected remote extractor, got '%s'", cfg.Extractor.Backend)
	}
	if cfg.Extractor.Timeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.Extractor.Timeout)
	}
	if cfg.Extractor.MaxImageSize != 1920 {
		t.Errorf("expected max image size 1920, got %d", cfg.Extractor.MaxImageSize)
	}
	if cfg.Extractor.Workers <= 0 {
		t.Errorf("expected positive worker count, got %d", cfg.Extractor.Workers)
	}
	if cfg.Extractor.DescriptorDim != 0 {
		t.Errorf("expected descriptor dim 0, got %d", cfg.Extractor.DescriptorDim)
	}
	if cfg.Matcher.AcceptThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.Matcher.AcceptThreshold)
	}
	if cfg.Store.Backend != "file" {
		t.Errorf("expected file backend, got '%s'", cfg.Store.Backend)
	}
	if cfg.Store.File != "enrollments.gob" {
		t.Errorf("expected enrollments.gob, got '%s'", cfg.Store.File)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info level, got '%s'", cfg.Logging.Level)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FACE_EXTRACTOR", "dlib")
	t.Setenv("FACE_ACCEPT_THRESHOLD", "0.42")
	t.Setenv("FACE_AMBIGUITY_EPSILON", "0.01")
	t.Setenv("FACE_INDEX", "hnsw")
	t.Setenv("EXTRACTION_TIMEOUT", "250ms")
	t.Setenv("EXTRACTION_WORKERS", "3")
	t.Setenv("FACE_DESCRIPTOR_DIM", "128")
	t.Setenv("ENROLLMENT_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")

	cfg := Load()

	if cfg.Extractor.Backend != "dlib" {
		t.Errorf("expected dlib, got '%s'", cfg.Extractor.Backend)
	}
	if cfg.Matcher.AcceptThreshold != 0.42 {
		t.Errorf("expected threshold 0.42, got %v", cfg.Matcher.AcceptThreshold)
	}
	if cfg.Matcher.AmbiguityEpsilon != 0.01 {
		t.Errorf("expected epsilon 0.01, got %v", cfg.Matcher.AmbiguityEpsilon)
	}
	if cfg.Matcher.Index != "hnsw" {
		t.Errorf("expected hnsw, got '%s'", cfg.Matcher.Index)
	}
	if cfg.Extractor.Timeout != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Extractor.Timeout)
	}
	if cfg.Extractor.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Extractor.Workers)
	}
	if cfg.Extractor.DescriptorDim != 128 {
		t.Errorf("expected dim 128, got %d", cfg.Extractor.DescriptorDim)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("expected postgres, got '%s'", cfg.Store.Backend)
	}
	if cfg.Database.URL != "postgres://u:p@localhost/db" {
		t.Errorf("unexpected database URL '%s'", cfg.Database.URL)
	}
}

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 7},
		{"valid", "12", 12},
		{"zero falls back", "0", 7},
		{"negative falls back", "-3", 7},
		{"garbage falls back", "abc", 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("FACEID_TEST_INT", tc.value)
			if got := envInt("FACEID_TEST_INT", 7); got != tc.want {
				t.Errorf("envInt() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		threshold string
		epsilon   string
		wantErr   bool
	}{
		{"defaults", "", "", false},
		{"zero threshold is strict, not default", "0", "0", false},
		{"custom", "0.6", "0.01", false},
		{"negative threshold", "-1", "", true},
		{"garbage threshold", "nope", "", true},
		{"negative epsilon", "", "-0.001", true},
		{"infinite threshold", "+Inf", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("FACE_ACCEPT_THRESHOLD", tc.threshold)
			t.Setenv("FACE_AMBIGUITY_EPSILON", tc.epsilon)

			err := Load().Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_ZeroThresholdKept(t *testing.T) {
	t.Setenv("FACE_ACCEPT_THRESHOLD", "0")
	if got := Load().Matcher.AcceptThreshold; got != 0 {
		t.Errorf("AcceptThreshold = %v, want 0", got)
	}
}

func TestEnvDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("FACEID_TEST_DURATION", "soon")
	if got := envDuration("FACEID_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("envDuration() = %v, want 1s", got)
	}
}
