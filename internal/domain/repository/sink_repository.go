package repository

import (
	"context"

	"github.com/moroshma/hc2stream/internal/domain/entity"
)

// SinkRepository defines the interface for change delivery targets
type SinkRepository interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Publish delivers one batch of change records
	Publish(ctx context.Context, batch *entity.ChangeBatch) error

	// Close releases the sink connection
	Close() error
}
