package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultConfig returns the built-in configuration. Every key has a default
// here so the orchestrator runs with no config file at all.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL: "postgres://localhost:5432/fancai?sslmode=disable",
		RedisURL:    "redis://localhost:6379/0",
		Admission: AdmissionConfig{
			MaxConcurrentGlobal:  5,
			MaxConcurrentPerUser: 1,
			CooldownSecondsPer:   60,
			MaxMemoryPercent:     85,
			MaxCPUPercent:        90,
			MinFreeMemoryMB:      500,
			MaxBookBytesFree:     50 << 20, // 50 MiB upload cap on the free tier
		},
		Queue: QueueConfig{
			TimeoutSeconds:       3600,
			AgePromotionInterval: 300,
			WakeIntervalSeconds:  5,
			Size:                 1000,
		},
		Worker: WorkerConfig{
			Concurrency:              2,
			Queues:                   []string{"heavy", "normal", "light"},
			SoftTimeLimitSeconds:     1500,
			HardTimeLimitSeconds:     1800,
			MaxTasksPerChild:         10,
			MaxMemoryPerChildMB:      5 * 1024,
			MaxAttempts:              3,
			HeartbeatIntervalSeconds: 30,
			StuckJobSweepSpec:        "*/5 * * * *",
			StuckJobThresholdSeconds: 600,
		},
		Pipeline: PipelineConfig{
			ProcessingMode:         "adaptive",
			MaxParallelProcessors:  3,
			ConsensusThreshold:     0.5,
			ImagePriorityThreshold: 0.65,
			MaxImagesPerChapter:    3,
			SkipServicePages:       true,
			ModelCacheSize:         3,
			ModelTTLSeconds:        3600,
			PreloadModels:          []string{},
		},
		Processors: map[string]ProcessorConfig{
			"pattern": {Enabled: true, Weight: 1.0, Threshold: 0.3, PriorityRank: 3},
			"entity":  {Enabled: true, Weight: 1.2, Threshold: 0.3, PriorityRank: 2},
			"mood":    {Enabled: true, Weight: 0.8, Threshold: 0.3, PriorityRank: 1},
		},
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Orchestrator configuration
# Values may also be set via environment variables with the FANCAI_ prefix,
# e.g. FANCAI_DATABASE_URL, FANCAI_REDIS_URL.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
