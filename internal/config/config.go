package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	DBPath     string
	// ServerURL is the remote review server's REST root.
	ServerURL string
	// ShellOrigin serves the static application shell; empty disables the
	// shell proxy.
	ShellOrigin    string
	CacheName      string
	CachePrefix    string
	CacheLRUSize   int
	CacheExclude   []string
	HTTPTimeout    time.Duration
	SyncQueueSize  int
	SyncConcurrent int
	ProbeInterval  time.Duration
	LogLevel       string
	LogFormat      string
	LogFile        string
}

func Load() *Config {
	return &Config{
		ListenAddr:     getEnv("LISTEN_ADDR", ":8000"),
		DBPath:         getEnv("DB_PATH", "/data/reviewsync.db"),
		ServerURL:      getEnv("SERVER_URL", "http://localhost:1337"),
		ShellOrigin:    getEnv("SHELL_ORIGIN", ""),
		CacheName:      getEnv("CACHE_NAME", "restaurant-review-v1"),
		CachePrefix:    getEnv("CACHE_PREFIX", "restaurant-review-"),
		CacheLRUSize:   getEnvInt("CACHE_LRU_SIZE", 256),
		CacheExclude:   getEnvList("CACHE_EXCLUDE", []string{"chrome-extension://", "browser-sync"}),
		HTTPTimeout:    getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		SyncQueueSize:  getEnvInt("SYNC_QUEUE_SIZE", 8),
		SyncConcurrent: getEnvInt("SYNC_CONCURRENCY", 4),
		ProbeInterval:  getEnvDuration("PROBE_INTERVAL", 30*time.Second),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		LogFile:        getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getEnvInt falls back to defaultVal when the variable is unset or not a
// positive integer.
func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// getEnvList splits a comma-separated variable. Set but empty means no
// entries.
func getEnvList(key string, defaultVal []string) []string {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	list := []string{}
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}
