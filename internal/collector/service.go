package collector

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"github.com/theburgerllc/nycayen-telemetry/internal/core/storage"
	"github.com/theburgerllc/nycayen-telemetry/internal/metrics"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service is the reference collector: it accepts delivery batches, checks
// each envelope, and persists events idempotently by id.
type Service struct {
	store            storage.EventStore
	recorder         metrics.Recorder
	decoder          *zstd.Decoder
	maxBodySizeBytes int
	now              func() time.Time
}

func NewService(repo storage.EventStore, recorder metrics.Recorder, maxBodySizeMB int) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("collector: store must not be nil")
	}
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	maxBytes := maxBodySizeMB * 1024 * 1024

	decoder, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(uint64(maxBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("collector: failed to create zstd decoder: %w", err)
	}

	return &Service{
		store:            repo,
		recorder:         recorder,
		decoder:          decoder,
		maxBodySizeBytes: maxBytes,
		now:              time.Now,
	}, nil
}

// RegisterRoutes registers the collector routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/collect", s.CollectHandler)
	r.GET("/v1/events", s.ListEventsHandler)
}

// Close releases the zstd decoder.
func (s *Service) Close() {
	s.decoder.Close()
}
