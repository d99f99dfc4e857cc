package audit

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/shopforge/portal-agent/pkg/model"
)

// DBExecutor is the subset of pgxpool.Pool the audit trail needs.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Writer records session events in portal.session_event. It satisfies the
// publisher interface so it can be fanned out next to a broker.
type Writer struct {
	db     DBExecutor
	logger *zap.Logger
	source string
}

// NewWriter builds a Writer. source identifies the agent instance, e.g. its credential namespace.
func NewWriter(db DBExecutor, logger *zap.Logger, source string) *Writer {
	return &Writer{db: db, logger: logger, source: source}
}

const insertEvent = `
	INSERT INTO portal.session_event (
		id,
		event_type,
		store_slug,
		user_email,
		reason,
		source,
		occurred_at
	)
	VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	ON CONFLICT (id) DO NOTHING;
`

// Publish inserts evt. Replays of the same event ID are ignored.
func (w *Writer) Publish(ctx context.Context, evt model.SessionEvent) error {
	_, err := w.db.Exec(ctx, insertEvent,
		evt.ID,
		string(evt.Type),
		evt.StoreSlug,
		evt.UserEmail,
		evt.Reason,
		w.source,
		evt.Timestamp,
	)
	if err != nil {
		w.logger.Error("audit.insert_failed",
			zap.String("event_id", evt.ID.String()),
			zap.String("type", string(evt.Type)),
			zap.Error(err))
		return err
	}

	w.logger.Debug("audit.recorded",
		zap.String("event_id", evt.ID.String()),
		zap.String("type", string(evt.Type)))
	return nil
}

// Close is a no-op; the pool belongs to the credential store.
func (w *Writer) Close() error { return nil }
