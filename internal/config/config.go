// Package config handles engine configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AssetDir                 string
	DeviceAddrs              []string
	FrameCacheEnabled        bool
	FrameCacheTTL            time.Duration
	FrameSimilarityThreshold float64 // mean abs thumbnail diff for "same frame"
	CrossSessionCacheEnabled bool
	SharedCacheBucketSize    int
	DefaultMatchThreshold    float64
	InferencePoolSize        int
	ComputePoolFraction      float64 // share of CPUs granted to vision/inference work
}

func Load() *Config {
	return &Config{
		AssetDir:                 getEnv("ASSET_DIR", "assets"),
		DeviceAddrs:              getEnvList("DEVICE_ADDRS", nil),
		FrameCacheEnabled:        getEnvBool("FRAME_CACHE_ENABLED", true),
		FrameCacheTTL:            getEnvDuration("FRAME_CACHE_TTL", 1500*time.Millisecond),
		FrameSimilarityThreshold: getEnvFloat("FRAME_SIMILARITY_THRESHOLD", 4.0),
		CrossSessionCacheEnabled: getEnvBool("CROSS_SESSION_CACHE_ENABLED", true),
		SharedCacheBucketSize:    getEnvInt("SHARED_CACHE_BUCKET_SIZE", 32),
		DefaultMatchThreshold:    getEnvFloat("DEFAULT_MATCH_THRESHOLD", 0.85),
		InferencePoolSize:        getEnvInt("INFERENCE_POOL_SIZE", 2),
		ComputePoolFraction:      getEnvFloat("COMPUTE_POOL_FRACTION", 0.5),
	}
}

// InferencePoolSizeFor returns the pool size for an engine kind,
// honoring a per-kind override like INFERENCE_POOL_SIZE_OCR.
func (c *Config) InferencePoolSizeFor(kind string) int {
	key := "INFERENCE_POOL_SIZE_" + strings.ToUpper(kind)
	return getEnvInt(key, c.InferencePoolSize)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
