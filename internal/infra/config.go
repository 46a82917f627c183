package infra

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Upload modes for sending resolved images to the backend.
const (
	UploadModeHTTP       = "http"
	UploadModeFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	LogLevel           string
	DatabaseURL        string
	BackendURL         string
	BackendAPIKey      string
	BackendUploadMode  string
	BackendInputDir    string
	FetchTimeout       time.Duration
	UploadTimeout      time.Duration
	ProcessTimeout     time.Duration
	PollInterval       time.Duration
	WorkerPollInterval time.Duration
	// JobLease is how long an IN_PROGRESS job may go without an update before
	// another worker reclaims it.
	JobLease time.Duration
	// ImageSourceAllowlist limits which hosts image URLs may point at. Empty
	// allows every host, so keep ImageSourceBlockPrivate on unless image URLs
	// legitimately point inside the network.
	ImageSourceAllowlist []string
	// ImageSourceBlockPrivate refuses downloads that resolve to loopback,
	// private, link-local (including cloud metadata) or unspecified addresses.
	ImageSourceBlockPrivate bool
	MaxImageBytes           int64
	ResolveConcurrency      int
	HTTPReadTimeout         time.Duration
	HTTPWriteTimeout        time.Duration
	HTTPIdleTimeout         time.Duration
	RateLimitPerMin         int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                  getEnv("APP_ENV", "development"),
		Port:                    getEnv("PORT", "8080"),
		LogLevel:                os.Getenv("LOG_LEVEL"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		BackendURL:              getEnv("BACKEND_URL", "http://127.0.0.1:8188"),
		BackendAPIKey:           os.Getenv("BACKEND_API_KEY"),
		BackendUploadMode:       strings.ToLower(getEnv("BACKEND_UPLOAD_MODE", UploadModeHTTP)),
		BackendInputDir:         os.Getenv("BACKEND_INPUT_DIR"),
		FetchTimeout:            time.Second * time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 30)),
		UploadTimeout:           time.Second * time.Duration(getEnvInt("UPLOAD_TIMEOUT_SECONDS", 60)),
		ProcessTimeout:          time.Second * time.Duration(getEnvInt("PROCESS_TIMEOUT_SECONDS", 600)),
		PollInterval:            time.Millisecond * time.Duration(getEnvInt("BACKEND_POLL_INTERVAL_MS", 250)),
		WorkerPollInterval:      time.Millisecond * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 2000)),
		JobLease:                time.Second * time.Duration(getEnvInt("JOB_LEASE_SECONDS", 0)),
		ImageSourceAllowlist:    splitHosts(os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST")),
		ImageSourceBlockPrivate: getEnvBool("IMAGE_SOURCE_BLOCK_PRIVATE", true),
		MaxImageBytes:           int64(getEnvInt("MAX_IMAGE_BYTES", 50*1024*1024)),
		ResolveConcurrency:      getEnvInt("RESOLVE_CONCURRENCY", 2),
		HTTPReadTimeout:         time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:        time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 660)),
		HTTPIdleTimeout:         time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:         getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.JobLease <= 0 {
		cfg.JobLease = cfg.FetchTimeout + cfg.UploadTimeout + cfg.ProcessTimeout + time.Minute
	}

	switch cfg.BackendUploadMode {
	case UploadModeHTTP:
	case UploadModeFilesystem:
		if strings.TrimSpace(cfg.BackendInputDir) == "" {
			return nil, fmt.Errorf("BACKEND_INPUT_DIR is required when BACKEND_UPLOAD_MODE=filesystem")
		}
	default:
		return nil, fmt.Errorf("unsupported BACKEND_UPLOAD_MODE %q", cfg.BackendUploadMode)
	}

	return cfg, nil
}

// HasDatabase reports whether async job persistence is configured.
func (c *Config) HasDatabase() bool {
	return c != nil && strings.TrimSpace(c.DatabaseURL) != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitHosts(raw string) []string {
	seen := map[string]struct{}{}
	var hosts []string
	for _, part := range strings.Split(raw, ",") {
		host := strings.ToLower(strings.TrimSpace(part))
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
