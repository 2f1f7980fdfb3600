package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

type PipelineConfig struct {
	Workers          int           // max documents in flight
	GroupPause       time.Duration // pause between admission groups
	QueueSize        int
	ChunkSize        int
	ChunkOverlap     int
	MaxStageAttempts int
	Backoff          []time.Duration // indexed by retry_count
	StageTimeout     time.Duration
	TopK             int
	MinScore         float64
	UploadDir        string
}

var (
	pipelineConfig *PipelineConfig
	pipelineOnce   sync.Once
)

func LoadPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		pipelineConfig = &PipelineConfig{
			Workers:          envInt("PIPELINE_WORKERS", 3),
			GroupPause:       envDuration("PIPELINE_GROUP_PAUSE", time.Second),
			QueueSize:        envInt("PIPELINE_QUEUE_SIZE", 256),
			ChunkSize:        envInt("PIPELINE_CHUNK_SIZE", 1000),
			ChunkOverlap:     envInt("PIPELINE_CHUNK_OVERLAP", 200),
			MaxStageAttempts: envInt("PIPELINE_MAX_STAGE_ATTEMPTS", 3),
			Backoff:          []time.Duration{5 * time.Second, 15 * time.Second, 60 * time.Second},
			StageTimeout:     envDuration("PIPELINE_STAGE_TIMEOUT", 90*time.Second),
			TopK:             envInt("PIPELINE_TOP_K", 5),
			MinScore:         envFloat("PIPELINE_MIN_SCORE", 0.7),
			UploadDir:        envString("UPLOAD_DIR", "./uploads/documents"),
		}
	})
	return pipelineConfig
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
