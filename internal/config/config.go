package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Extractor ExtractorConfig
	Matcher   MatcherConfig
	Store     StoreConfig
	Database  DatabaseConfig
	MariaDB   MariaDBConfig
	Logging   LoggingConfig
	Web       WebConfig
}

type ExtractorConfig struct {
	Backend       string        // remote or dlib
	EmbeddingURL  string        // face embedding server, defaults to http://localhost:8000
	ModelsDir     string        // dlib model directory
	Workers       int           // bounded pool size
	Timeout       time.Duration // per-invocation timeout
	MaxImageSize  int           // longest side before downscaling
	DescriptorDim int           // 0 adopts the dimension of the first descriptor seen
}

type MatcherConfig struct {
	AcceptThreshold  float64 `yaml:"accept_threshold"`
	AmbiguityEpsilon float64 `yaml:"ambiguity_epsilon"`
	Index            string  `yaml:"index"`
}

type StoreConfig struct {
	Backend string // postgres, mariadb, file or memory
	File    string // path for the file backend
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type MariaDBConfig struct {
	URL string // DSN, e.g. faceid:faceid@tcp(mariadb:3306)/faceid?parseTime=true
}

type LoggingConfig struct {
	Level         string
	Format        string // text or json
	IncludeCaller bool
}

type WebConfig struct {
	Host string
	Port int
}

// Defaults is the embedded calibration file.
type Defaults struct {
	Matcher   MatcherConfig `yaml:"matcher"`
	Extractor struct {
		Backend      string `yaml:"backend"`
		Timeout      string `yaml:"timeout"`
		MaxImageSize int    `yaml:"max_image_size"`
	} `yaml:"extractor"`
}

// LoadDefaults parses the embedded calibration defaults.
func LoadDefaults() Defaults {
	var d Defaults
	if err := yaml.Unmarshal(defaultsYAML, &d); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return d
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float, falling back to defaultVal when unset. Unparsable
// values become NaN and negative values are kept, so Validate can reject them
// instead of silently running with a calibration nobody asked for.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// envDuration reads a Go duration string (e.g. "10s"), falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func Load() *Config {
	d := LoadDefaults()

	defaultTimeout, err := time.ParseDuration(d.Extractor.Timeout)
	if err != nil || defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}

	return &Config{
		Extractor: ExtractorConfig{
			Backend:       envString("FACE_EXTRACTOR", d.Extractor.Backend),
			EmbeddingURL:  os.Getenv("EMBEDDING_URL"),
			ModelsDir:     envString("DLIB_MODELS_DIR", "./models"),
			Workers:       envInt("EXTRACTION_WORKERS", runtime.NumCPU()),
			Timeout:       envDuration("EXTRACTION_TIMEOUT", defaultTimeout),
			MaxImageSize:  envInt("MAX_IMAGE_SIZE", d.Extractor.MaxImageSize),
			DescriptorDim: envInt("FACE_DESCRIPTOR_DIM", 0),
		},
		Matcher: MatcherConfig{
			AcceptThreshold:  envFloat("FACE_ACCEPT_THRESHOLD", d.Matcher.AcceptThreshold),
			AmbiguityEpsilon: envFloat("FACE_AMBIGUITY_EPSILON", d.Matcher.AmbiguityEpsilon),
			Index:            envString("FACE_INDEX", d.Matcher.Index),
		},
		Store: StoreConfig{
			Backend: envString("ENROLLMENT_BACKEND", "file"),
			File:    envString("ENROLLMENT_FILE", "enrollments.gob"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		MariaDB: MariaDBConfig{
			URL: os.Getenv("MARIADB_URL"),
		},
		Logging: LoggingConfig{
			Level:         envString("LOG_LEVEL", "info"),
			Format:        envString("LOG_FORMAT", "text"),
			IncludeCaller: envBool("LOG_CALLER"),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", "0.0.0.0"),
			Port: envInt("WEB_PORT", 8080),
		},
	}
}

// Validate rejects calibration values the matcher cannot use. Zero is valid.
func (c *Config) Validate() error {
	var errs []error
	check := func(key string, v float64) {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s must be a number >= 0, got %q", key, os.Getenv(key)))
		}
	}
	check("FACE_ACCEPT_THRESHOLD", c.Matcher.AcceptThreshold)
	check("FACE_AMBIGUITY_EPSILON", c.Matcher.AmbiguityEpsilon)
	return errors.Join(errs...)
}
