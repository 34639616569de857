package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	natsAckWait    = 30 * time.Second
	natsMaxDeliver = 10
	natsMaxAge     = 24 * time.Hour
	natsDrainWait  = 30 * time.Second
)

// NATSQueue publishes usage jobs to a JetStream stream and consumes them with a durable queue group,
// so several API instances share the sync work.
type NATSQueue struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    config.NATSConfig
	sub    *nats.Subscription
	closed chan struct{}
	logger *zap.Logger
}

func NewNATSQueue(cfg config.NATSConfig, logger *zap.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	closed := make(chan struct{})
	conn, err := nats.Connect(
		cfg.URL,
		nats.DrainTimeout(natsDrainWait),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	q := &NATSQueue{conn: conn, js: js, cfg: cfg, closed: closed, logger: logger}
	if err := q.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	return q, nil
}

// ensureStream creates the stream on first start and updates it afterwards.
func (q *NATSQueue) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:     q.cfg.Stream,
		Subjects: []string{q.cfg.Subject},
		Storage:  nats.FileStorage,
		MaxAge:   natsMaxAge,
		Replicas: 1,
	}

	_, err := q.js.StreamInfo(q.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := q.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", q.cfg.Stream, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get stream %s: %w", q.cfg.Stream, err)
	}

	if _, err := q.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", q.cfg.Stream, err)
	}
	return nil
}

func (q *NATSQueue) Publish(ctx context.Context, job models.UsageSyncJob) error {
	data, err := EncodeJob(job)
	if err != nil {
		return err
	}

	if _, err := q.js.Publish(q.cfg.Subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish usage job: %w", err)
	}
	return nil
}

func (q *NATSQueue) Start(handler Handler) error {
	sub, err := q.js.QueueSubscribe(
		q.cfg.Subject,
		q.cfg.Durable,
		func(msg *nats.Msg) {
			q.handle(msg, handler)
		},
		nats.Durable(q.cfg.Durable),
		nats.ManualAck(),
		nats.AckWait(natsAckWait),
		nats.MaxDeliver(natsMaxDeliver),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", q.cfg.Subject, err)
	}

	q.sub = sub
	q.logger.Info("Usage queue subscribed", zap.String("subject", q.cfg.Subject), zap.String("durable", q.cfg.Durable))
	return nil
}

func (q *NATSQueue) handle(msg *nats.Msg, handler Handler) {
	job, err := DecodeJob(msg.Data)
	if err != nil {
		q.logger.Error("Dropping malformed usage job", zap.Error(err))
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := handler(ctx, job); err != nil {
		q.logger.Warn("Usage job failed, redelivering",
			zap.String("user_id", job.UserID),
			zap.String("feature", job.FeatureKey),
			zap.Error(err),
		)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()
}

// Stop drains the connection: no new deliveries, in-flight handlers finish and pending publishes are flushed.
// It returns once the connection is closed or the drain timeout passes.
func (q *NATSQueue) Stop() {
	if err := q.conn.Drain(); err != nil {
		q.logger.Warn("Failed to drain NATS connection", zap.Error(err))
		q.conn.Close()
	}

	select {
	case <-q.closed:
	case <-time.After(natsDrainWait + time.Second):
		q.logger.Warn("NATS connection did not close after drain")
	}
	q.logger.Info("Usage queue stopped")
}

func EncodeJob(job models.UsageSyncJob) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to encode usage job: %w", err)
	}
	return data, nil
}

func DecodeJob(data []byte) (models.UsageSyncJob, error) {
	var job models.UsageSyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("failed to decode usage job: %w", err)
	}
	if job.UserID == "" || job.SubscriptionID == "" || job.FeatureKey == "" {
		return job, errors.New("usage job is missing its key")
	}
	return job, nil
}
