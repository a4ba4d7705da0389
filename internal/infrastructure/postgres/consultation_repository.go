package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/farmbridge/farmbridge/internal/domain/consultation"
)

const consultationColumns = "id, consultation_id, farmer_id, expert_id, status, topic, notes, scheduled_for, cancel_reason, version, created_at, updated_at"

// ConsultationRepository implements consultation.Store on Postgres. Every
// write appends a snapshot row to consultation_events inside the same
// transaction, so the change feed observes commits in order.
type ConsultationRepository struct {
	pool *pgxpool.Pool
}

func NewConsultationRepository(pool *pgxpool.Pool) *ConsultationRepository {
	return &ConsultationRepository{pool: pool}
}

func (r *ConsultationRepository) Create(ctx context.Context, c *consultation.Consultation, actorID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return transportErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO consultations
		(consultation_id, farmer_id, expert_id, status, topic, notes, scheduled_for, cancel_reason, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id
	`, c.ConsultationID, c.FarmerID, c.ExpertID, c.Status, c.Topic, c.Notes, c.ScheduledFor, c.CancelReason, c.Version, c.CreatedAt, c.UpdatedAt)
	if err := row.Scan(&c.ID); err != nil {
		return transportErr(err)
	}

	if err := insertEvent(ctx, tx, consultation.EventInsert, c, actorID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return transportErr(err)
	}
	return nil
}

func (r *ConsultationRepository) GetByID(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations WHERE consultation_id=$1
	`, id)
	return scanConsultation(row)
}

// ConditionalUpdate writes c only if the stored version still equals
// expectedVersion. A lost race surfaces as consultation.ErrConflict; the
// row is untouched in that case.
func (r *ConsultationRepository) ConditionalUpdate(ctx context.Context, c *consultation.Consultation, expectedVersion int64, actorID uuid.UUID) (*consultation.Consultation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, transportErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE consultations
		SET expert_id=$2, status=$3, topic=$4, notes=$5, scheduled_for=$6, cancel_reason=$7, version=$8, updated_at=$9
		WHERE consultation_id=$1 AND version=$10
		RETURNING `+consultationColumns+`
	`, c.ConsultationID, c.ExpertID, c.Status, c.Topic, c.Notes, c.ScheduledFor, c.CancelReason, c.Version, c.UpdatedAt, expectedVersion)

	updated, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, consultation.ErrNotFound) {
			return nil, r.classifyMiss(ctx, c.ConsultationID)
		}
		return nil, err
	}

	if err := insertEvent(ctx, tx, consultation.EventUpdate, updated, actorID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, transportErr(err)
	}
	return updated, nil
}

func (r *ConsultationRepository) List(ctx context.Context, filter consultation.Filter, limit, offset int) ([]*consultation.Consultation, error) {
	query := "SELECT " + consultationColumns + " FROM consultations"
	args := []interface{}{}
	idx := 1
	where := func() string {
		if len(args) == 0 {
			return " WHERE"
		}
		return " AND"
	}
	if filter.Status != nil {
		query += where() + " status=$" + strconv.Itoa(idx)
		args = append(args, *filter.Status)
		idx++
	}
	if filter.FarmerID != nil {
		query += where() + " farmer_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.FarmerID)
		idx++
	}
	if filter.ExpertID != nil {
		query += where() + " expert_id=$" + strconv.Itoa(idx)
		args = append(args, *filter.ExpertID)
		idx++
	}
	query += " ORDER BY created_at DESC LIMIT $" + strconv.Itoa(idx) + " OFFSET $" + strconv.Itoa(idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, transportErr(err)
	}
	defer rows.Close()

	var out []*consultation.Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// classifyMiss distinguishes a missing row from a stale token after a
// zero-row conditional update.
func (r *ConsultationRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM consultations WHERE consultation_id=$1)`, id).Scan(&exists)
	if err != nil {
		return transportErr(err)
	}
	if !exists {
		return consultation.ErrNotFound
	}
	return consultation.ErrConflict
}

func insertEvent(ctx context.Context, tx pgx.Tx, t consultation.EventType, c *consultation.Consultation, actorID uuid.UUID) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO consultation_events (event_type, consultation_id, actor_id, payload)
		VALUES ($1,$2,$3,$4)
	`, t, c.ConsultationID, actorID, payload)
	if err != nil {
		return transportErr(err)
	}
	return nil
}

func scanConsultation(row pgx.Row) (*consultation.Consultation, error) {
	var c consultation.Consultation
	err := row.Scan(
		&c.ID,
		&c.ConsultationID,
		&c.FarmerID,
		&c.ExpertID,
		&c.Status,
		&c.Topic,
		&c.Notes,
		&c.ScheduledFor,
		&c.CancelReason,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, consultation.ErrNotFound
		}
		return nil, transportErr(err)
	}
	return &c, nil
}

func transportErr(err error) error {
	return fmt.Errorf("%w: %v", consultation.ErrUnavailable, err)
}
