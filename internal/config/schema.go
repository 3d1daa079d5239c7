package config

import "time"

// Config is the full orchestrator configuration. Every field has a default;
// values come from the environment (FANCAI_ prefix) or a YAML config file.
type Config struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	RedisURL    string `mapstructure:"redis_url" yaml:"redis_url"`

	Admission  AdmissionConfig            `mapstructure:"admission" yaml:"admission"`
	Queue      QueueConfig                `mapstructure:"queue" yaml:"queue"`
	Worker     WorkerConfig               `mapstructure:"worker" yaml:"worker"`
	Pipeline   PipelineConfig             `mapstructure:"pipeline" yaml:"pipeline"`
	Processors map[string]ProcessorConfig `mapstructure:"processors" yaml:"processors"`
}

// AdmissionConfig controls the admission gates.
type AdmissionConfig struct {
	MaxConcurrentGlobal  int     `mapstructure:"max_concurrent_global" yaml:"max_concurrent_global"`
	MaxConcurrentPerUser int     `mapstructure:"max_concurrent_per_user" yaml:"max_concurrent_per_user"`
	CooldownSecondsPer   int     `mapstructure:"cooldown_seconds_per_book" yaml:"cooldown_seconds_per_book"`
	MaxMemoryPercent     float64 `mapstructure:"max_memory_percent" yaml:"max_memory_percent"`
	MaxCPUPercent        float64 `mapstructure:"max_cpu_percent" yaml:"max_cpu_percent"`
	MinFreeMemoryMB      uint64  `mapstructure:"min_free_memory_mb" yaml:"min_free_memory_mb"`
	MaxBookBytesFree     int64   `mapstructure:"max_book_bytes_free_tier" yaml:"max_book_bytes_free_tier"`
}

// Cooldown returns the per-book cooldown as a duration.
func (a AdmissionConfig) Cooldown() time.Duration {
	return time.Duration(a.CooldownSecondsPer) * time.Second
}

// QueueConfig controls the durable parsing queue and its dispatcher.
type QueueConfig struct {
	TimeoutSeconds       int `mapstructure:"queue_timeout_seconds" yaml:"queue_timeout_seconds"`
	AgePromotionInterval int `mapstructure:"age_promotion_interval" yaml:"age_promotion_interval"`
	WakeIntervalSeconds  int `mapstructure:"wake_interval_seconds" yaml:"wake_interval_seconds"`
	Size                 int `mapstructure:"queue_size" yaml:"queue_size"`
}

// Timeout returns the maximum queue wait as a duration.
func (q QueueConfig) Timeout() time.Duration {
	return time.Duration(q.TimeoutSeconds) * time.Second
}

// WakeInterval returns the dispatcher wake tick as a duration.
func (q QueueConfig) WakeInterval() time.Duration {
	return time.Duration(q.WakeIntervalSeconds) * time.Second
}

// PromotionInterval returns the age-based promotion interval as a duration.
func (q QueueConfig) PromotionInterval() time.Duration {
	return time.Duration(q.AgePromotionInterval) * time.Second
}

// WorkerConfig controls executor resource limits and retry behavior.
type WorkerConfig struct {
	Concurrency              int      `mapstructure:"concurrency" yaml:"concurrency"`
	Queues                   []string `mapstructure:"queues" yaml:"queues"`
	SoftTimeLimitSeconds     int      `mapstructure:"soft_time_limit" yaml:"soft_time_limit"`
	HardTimeLimitSeconds     int      `mapstructure:"hard_time_limit" yaml:"hard_time_limit"`
	MaxTasksPerChild         int      `mapstructure:"max_tasks_per_child" yaml:"max_tasks_per_child"`
	MaxMemoryPerChildMB      uint64   `mapstructure:"max_memory_per_child_mb" yaml:"max_memory_per_child_mb"`
	MaxAttempts              int      `mapstructure:"max_attempts" yaml:"max_attempts"`
	HeartbeatIntervalSeconds int      `mapstructure:"heartbeat_interval_seconds" yaml:"heartbeat_interval_seconds"`
	StuckJobSweepSpec        string   `mapstructure:"stuck_job_sweep_spec" yaml:"stuck_job_sweep_spec"`
	StuckJobThresholdSeconds int      `mapstructure:"stuck_job_threshold_seconds" yaml:"stuck_job_threshold_seconds"`
}

// SoftTimeLimit returns the per-job soft limit as a duration.
func (w WorkerConfig) SoftTimeLimit() time.Duration {
	return time.Duration(w.SoftTimeLimitSeconds) * time.Second
}

// HardTimeLimit returns the per-job hard limit as a duration.
func (w WorkerConfig) HardTimeLimit() time.Duration {
	return time.Duration(w.HardTimeLimitSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (w WorkerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(w.HeartbeatIntervalSeconds) * time.Second
}

// StuckJobThreshold returns the heartbeat staleness threshold as a duration.
func (w WorkerConfig) StuckJobThreshold() time.Duration {
	return time.Duration(w.StuckJobThresholdSeconds) * time.Second
}

// PipelineConfig controls description extraction.
type PipelineConfig struct {
	ProcessingMode         string   `mapstructure:"processing_mode" yaml:"processing_mode"`
	MaxParallelProcessors  int      `mapstructure:"max_parallel_processors" yaml:"max_parallel_processors"`
	ConsensusThreshold     float64  `mapstructure:"consensus_threshold" yaml:"consensus_threshold"`
	ImagePriorityThreshold float64  `mapstructure:"image_priority_threshold" yaml:"image_priority_threshold"`
	MaxImagesPerChapter    int      `mapstructure:"max_images_per_chapter" yaml:"max_images_per_chapter"`
	SkipServicePages       bool     `mapstructure:"skip_service_pages" yaml:"skip_service_pages"`
	ModelCacheSize         int      `mapstructure:"nlp_model_cache_size" yaml:"nlp_model_cache_size"`
	ModelTTLSeconds        int      `mapstructure:"nlp_model_ttl_seconds" yaml:"nlp_model_ttl_seconds"`
	PreloadModels          []string `mapstructure:"nlp_preload_models" yaml:"nlp_preload_models"`
}

// ModelTTL returns the model cache TTL as a duration.
func (p PipelineConfig) ModelTTL() time.Duration {
	return time.Duration(p.ModelTTLSeconds) * time.Second
}

// ProcessorConfig is the per-processor registration record.
type ProcessorConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Weight       float64 `mapstructure:"weight" yaml:"weight"`
	Threshold    float64 `mapstructure:"threshold" yaml:"threshold"`
	PriorityRank int     `mapstructure:"priority_rank" yaml:"priority_rank"`
}
