package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const notifyChannel = "workflowd_events"

// wireEvent is the JSON shape sent over LISTEN/NOTIFY.
type wireEvent struct {
	Kind       Kind           `json:"kind"`
	InstanceID string         `json:"instance_id"`
	OrgID      string         `json:"org_id"`
	At         time.Time      `json:"at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Postgres publishes events via pg_notify, letting every workflowd instance
// sharing a database observe the same event stream without a broker.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// NewPostgres builds a Postgres-backed Publisher over an existing pool.
func NewPostgres(pool *pgxpool.Pool, logger *logrus.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// Publish sends evt as a NOTIFY payload on notifyChannel. NOTIFY payloads
// are capped at 8000 bytes by Postgres; callers should keep Payload small.
func (p *Postgres) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(wireEvent{
		Kind: evt.Kind, InstanceID: evt.InstanceID, OrgID: evt.OrgID, At: evt.At, Payload: evt.Payload,
	})
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, string(body))
	return err
}

// Listen opens a dedicated connection and relays NOTIFY payloads as Events
// on the returned channel until ctx is cancelled. The caller owns draining
// the channel; a slow consumer blocks the underlying LISTEN connection, so
// pair this with a bounded-buffer fan-out if multiple in-process consumers
// are needed.
func (p *Postgres) Listen(ctx context.Context) (<-chan Event, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer conn.Release()
		defer close(out)
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.WithError(err).Warn("event listener wait failed")
				return
			}
			var we wireEvent
			if err := json.Unmarshal([]byte(notification.Payload), &we); err != nil {
				p.logger.WithError(err).Warn("failed to decode event notification")
				continue
			}
			evt := Event{Kind: we.Kind, InstanceID: we.InstanceID, OrgID: we.OrgID, At: we.At, Payload: we.Payload}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
