package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type AppConfig struct {
	BaseDir         string
	LogLevel        string
	ServiceName     string
	CoreCount       int
	RedisUrl        string
	RabbitMQURL     string
	DatabaseURL     string
	MetricsAddr     string
	OtelEndpoint    string
	SchedulerConfig SchedulerConfig
	ReplayConfig    ReplayConfig
}

type SchedulerConfig struct {
	TickInterval        time.Duration
	TrialGrace          time.Duration // added on top of the fuzzing time before a trial is killed
	TrialImagePrefix    string
	AnalyzerImagePrefix string
	InboxDir            string // job-group files dropped here join a running campaign
	InboxPoll           time.Duration
}

type ReplayConfig struct {
	ProgressInterval time.Duration
	EmberBaseDir     string // Ember-IO checkout holding AFLplusplus/afl-qemu-trace
	MultiFuzzBaseDir string // MultiFuzz checkout holding target/release/hail-fuzz
	GhidraSrc        string // required by Fuzzware-Icicle and MultiFuzz
}

func LoadConfig() *AppConfig {
	// use a temporary logger for now
	logger := zap.NewExample().Named("config")

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to load .env file", zap.Error(err))
	}

	config := &AppConfig{
		BaseDir:      os.Getenv("FRB_BASE_DIR"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		ServiceName:  os.Getenv("SERVICE_NAME"),
		CoreCount:    parseInt(os.Getenv("CORE_COUNT"), runtime.NumCPU()),
		RedisUrl:     os.Getenv("REDIS_URL"),
		RabbitMQURL:  os.Getenv("RABBITMQ_URL"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		OtelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SchedulerConfig: SchedulerConfig{
			TickInterval:        parseDuration(os.Getenv("SCHEDULER_TICK"), time.Second),
			TrialGrace:          parseDuration(os.Getenv("TRIAL_GRACE"), time.Minute),
			TrialImagePrefix:    parseString(os.Getenv("TRIAL_IMAGE_PREFIX"), "frb_original"),
			AnalyzerImagePrefix: parseString(os.Getenv("ANALYZER_IMAGE_PREFIX"), "frb"),
			InboxDir:            os.Getenv("FRB_INBOX_DIR"),
			InboxPoll:           parseDuration(os.Getenv("INBOX_POLL"), 5*time.Second),
		},
		ReplayConfig: ReplayConfig{
			ProgressInterval: parseDuration(os.Getenv("PROGRESS_INTERVAL"), 5*time.Second),
			EmberBaseDir:     os.Getenv("EMBER_BASE_DIR"),
			MultiFuzzBaseDir: os.Getenv("MULTIFUZZ_BASE_DIR"),
			GhidraSrc:        os.Getenv("GHIDRA_SRC"),
		},
	}

	if config.LogLevel == "" {
		config.LogLevel = "info" // Set default log level
	}
	if config.ServiceName == "" {
		config.ServiceName = "frbench" // Default service name
	}
	if config.CoreCount < 1 {
		config.CoreCount = 1
	}

	return config
}

// Workers is the number of execution slots (and replay workers). One core is
// kept free for the control loop and the docker daemon.
func (c *AppConfig) Workers() int {
	return max(1, c.CoreCount-1)
}

// RequireBaseDir validates FRB_BASE_DIR. Only the fuzz command needs it.
func (c *AppConfig) RequireBaseDir() (string, error) {
	if c.BaseDir == "" {
		return "", fmt.Errorf("FRB_BASE_DIR environment variable is required")
	}
	abs, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve FRB_BASE_DIR: %w", err)
	}
	if st, err := os.Stat(abs); err != nil || !st.IsDir() {
		return "", fmt.Errorf("FRB_BASE_DIR %q is not a directory", abs)
	}
	return abs, nil
}

func parseString(val, defaultVal string) string {
	if val == "" {
		return defaultVal
	}
	return val
}

func parseDuration(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseInt(val string, defaultVal int) int {
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
