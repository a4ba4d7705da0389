package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/farmbridge/farmbridge/internal/domain/consultation"
)

const feedBatchSize = 200

// Feed implements consultation.ChangeFeed by polling consultation_events.
// Commit order is the BIGSERIAL seq, so per-record ordering matches the
// versions written by the repository. After a restart the poller resumes
// from the caller's cursor, which may redeliver events; consumers dedupe on
// per-record versions.
type Feed struct {
	pool     *pgxpool.Pool
	interval time.Duration
	logger   zerolog.Logger
}

func NewFeed(pool *pgxpool.Pool, interval time.Duration, logger zerolog.Logger) *Feed {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Feed{
		pool:     pool,
		interval: interval,
		logger:   logger.With().Str("service", "change_feed").Logger(),
	}
}

// Changes streams events with seq > fromSeq until ctx is cancelled.
func (f *Feed) Changes(ctx context.Context, fromSeq int64) (<-chan consultation.ChangeEvent, error) {
	out := make(chan consultation.ChangeEvent, feedBatchSize)
	go func() {
		defer close(out)
		cursor := fromSeq
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			events, err := f.Events(ctx, cursor, feedBatchSize)
			if err != nil {
				f.logger.Warn().Err(err).Int64("cursor", cursor).Msg("feed poll failed")
			}
			for _, ev := range events {
				select {
				case out <- ev:
					cursor = ev.Seq
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LatestSeq returns the seq of the newest committed event, zero when the
// log is empty.
func (f *Feed) LatestSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := f.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM consultation_events`).Scan(&seq)
	if err != nil {
		return 0, transportErr(err)
	}
	return seq, nil
}

// Events returns up to limit committed events with seq > fromSeq.
func (f *Feed) Events(ctx context.Context, fromSeq int64, limit int) ([]consultation.ChangeEvent, error) {
	if limit <= 0 || limit > feedBatchSize {
		limit = feedBatchSize
	}
	rows, err := f.pool.Query(ctx, `
		SELECT seq, event_type, actor_id, payload, occurred_at
		FROM consultation_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, fromSeq, limit)
	if err != nil {
		return nil, transportErr(err)
	}
	defer rows.Close()

	var out []consultation.ChangeEvent
	for rows.Next() {
		var ev consultation.ChangeEvent
		var payload []byte
		if err := rows.Scan(&ev.Seq, &ev.Type, &ev.ActorID, &payload, &ev.OccurredAt); err != nil {
			return nil, transportErr(err)
		}
		if err := json.Unmarshal(payload, &ev.Consultation); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", ev.Seq, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
