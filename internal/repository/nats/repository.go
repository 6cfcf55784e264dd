package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/moroshma/hc2stream/internal/domain/entity"
	"github.com/moroshma/hc2stream/pkg/logger"
)

// defaultFlushTimeout bounds the flush when the caller set no deadline
const defaultFlushTimeout = 5 * time.Second

// conn is the part of *nats.Conn the sink uses
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Repository publishes change records on NATS subjects
type Repository struct {
	conn   conn
	prefix string
	logger *logger.Logger
}

// Config represents NATS sink configuration
type Config struct {
	URL           string
	User          string
	Password      string
	SubjectPrefix string
}

// NewRepository connects to NATS
func NewRepository(cfg *Config, log *logger.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	opts := []nats.Option{
		nats.Name("hc2bridge"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Repository{
		conn:   nc,
		prefix: cfg.SubjectPrefix,
		logger: log,
	}, nil
}

// Name identifies the sink
func (r *Repository) Name() string {
	return "nats"
}

// Subject returns the subject a record is published on:
// <prefix>.device.<id>, or <prefix>.hub for changes without a device.
func (r *Repository) Subject(rec *entity.ChangeRecord) string {
	if rec.HasDevice() {
		return r.prefix + ".device." + strconv.FormatInt(rec.DeviceID, 10)
	}
	return r.prefix + ".hub"
}

// Publish sends every record of the batch and flushes
func (r *Repository) Publish(ctx context.Context, batch *entity.ChangeBatch) error {
	for i := range batch.Records {
		rec := &batch.Records[i]

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode change %s: %w", rec.ID, err)
		}

		msg := nats.NewMsg(r.Subject(rec))
		msg.Data = data
		msg.Header.Set(nats.MsgIdHdr, rec.ID.String())
		msg.Header.Set("Hc2-Offset", strconv.FormatUint(rec.Offset, 10))

		if err := r.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("failed to publish change %s: %w", rec.ID, err)
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	if err := r.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}

	r.logger.Debug("Changes published to NATS",
		logger.String("prefix", r.prefix),
		logger.Int("records", len(batch.Records)),
	)
	return nil
}

// Close closes the NATS connection
func (r *Repository) Close() error {
	r.conn.Close()
	return nil
}
