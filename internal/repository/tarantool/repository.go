package tarantool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tarantool/go-tarantool/v2"

	"github.com/moroshma/hc2stream/internal/domain/entity"
	"github.com/moroshma/hc2stream/pkg/logger"
)

// Repository implements repository.SinkRepository using a Tarantool space
type Repository struct {
	conn   *tarantool.Connection
	exec   func(req tarantool.Request) ([]interface{}, error)
	space  string
	logger *logger.Logger
	mu     sync.RWMutex
	closed bool
}

// Config represents Tarantool repository configuration
type Config struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
	Space    string
}

// NewRepository connects to Tarantool
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	dialer := tarantool.NetDialer{
		Address:  cfg.Address,
		User:     cfg.User,
		Password: cfg.Password,
	}

	opts := tarantool.Opts{
		Timeout: cfg.Timeout,
	}

	conn, err := tarantool.Connect(ctx, dialer, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Tarantool: %w", err)
	}

	repo := &Repository{
		conn:   conn,
		space:  cfg.Space,
		logger: log,
	}
	repo.exec = func(req tarantool.Request) ([]interface{}, error) {
		return conn.Do(req).Get()
	}

	return repo, nil
}

// Name identifies the sink
func (r *Repository) Name() string {
	return "tarantool"
}

// Close closes the Tarantool connection
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Ping checks if the connection to Tarantool is alive
func (r *Repository) Ping() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("repository is closed")
	}

	_, err := r.exec(tarantool.NewPingRequest())
	return err
}

// Publish inserts one tuple per change record
func (r *Repository) Publish(ctx context.Context, batch *entity.ChangeBatch) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return fmt.Errorf("repository is closed")
	}

	for i := range batch.Records {
		if err := ctx.Err(); err != nil {
			return err
		}

		req := tarantool.NewInsertRequest(r.space).Tuple(recordTuple(&batch.Records[i]))
		if _, err := r.exec(req.Context(ctx)); err != nil {
			return fmt.Errorf("failed to insert change %s: %w", batch.Records[i].ID, err)
		}
	}

	r.logger.Debug("Changes stored in Tarantool",
		logger.String("space", r.space),
		logger.Int("records", len(batch.Records)),
	)

	return nil
}

// recordTuple lays a record out as {id, batch_id, offset, device_id, timestamp, payload}
func recordTuple(rec *entity.ChangeRecord) []interface{} {
	return []interface{}{
		rec.ID.String(),
		rec.BatchID.String(),
		rec.Offset,
		rec.DeviceID,
		rec.Timestamp.Unix(),
		string(rec.Payload),
	}
}
