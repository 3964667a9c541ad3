package medicalhistory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms-platform/hms/contracts"
)

const schema = `
CREATE TABLE IF NOT EXISTS medical_histories (
    id               UUID PRIMARY KEY,
    patient_id       UUID NOT NULL UNIQUE,
    patient_document TEXT NOT NULL,
    notes            TEXT,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_medical_histories_document
    ON medical_histories (patient_document);

CREATE TABLE IF NOT EXISTS diagnoses (
    id                 UUID PRIMARY KEY,
    medical_history_id UUID NOT NULL REFERENCES medical_histories (id) ON DELETE CASCADE,
    description        TEXT NOT NULL,
    date               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS exams (
    id                 UUID PRIMARY KEY,
    medical_history_id UUID NOT NULL REFERENCES medical_histories (id) ON DELETE CASCADE,
    type               TEXT NOT NULL,
    date               TIMESTAMPTZ NOT NULL,
    result             TEXT
);

CREATE TABLE IF NOT EXISTS prescriptions (
    id                 UUID PRIMARY KEY,
    medical_history_id UUID NOT NULL REFERENCES medical_histories (id) ON DELETE CASCADE,
    medication         TEXT NOT NULL,
    dosage             TEXT NOT NULL,
    date               TIMESTAMPTZ NOT NULL
);
`

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// EnsureSchema creates the medical-history tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create medical history schema: %w", err)
	}
	return nil
}

const historyCols = `id, patient_id, patient_document, notes, created_at, updated_at`

func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*contracts.MedicalHistory, error) {
	return r.get(ctx, `SELECT `+historyCols+` FROM medical_histories WHERE patient_id = $1`, patientID)
}

func (r *repoPG) GetByDocument(ctx context.Context, document string) (*contracts.MedicalHistory, error) {
	return r.get(ctx, `SELECT `+historyCols+` FROM medical_histories WHERE patient_document = $1
		ORDER BY created_at LIMIT 1`, document)
}

func (r *repoPG) ExistsForPatient(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM medical_histories WHERE patient_id = $1)`, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check medical history: %w", err)
	}
	return exists, nil
}

func (r *repoPG) Create(ctx context.Context, h *contracts.MedicalHistory) (bool, error) {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}

	var inserted bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO medical_histories (id, patient_id, patient_document, notes, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (patient_id) DO NOTHING`,
			h.ID, h.PatientID, h.PatientDocument, h.Notes, h.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true
		return insertEntries(ctx, tx, h)
	})
	if err != nil {
		return false, fmt.Errorf("create medical history: %w", err)
	}
	return inserted, nil
}

func insertEntries(ctx context.Context, q queryable, h *contracts.MedicalHistory) error {
	for i := range h.Diagnoses {
		d := &h.Diagnoses[i]
		if d.ID == uuid.Nil {
			d.ID = uuid.New()
		}
		if _, err := q.Exec(ctx, `INSERT INTO diagnoses (id, medical_history_id, description, date)
			VALUES ($1, $2, $3, $4)`, d.ID, h.ID, d.Description, d.Date); err != nil {
			return err
		}
	}
	for i := range h.Exams {
		e := &h.Exams[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if _, err := q.Exec(ctx, `INSERT INTO exams (id, medical_history_id, type, date, result)
			VALUES ($1, $2, $3, $4, $5)`, e.ID, h.ID, e.Type, e.Date, e.Result); err != nil {
			return err
		}
	}
	for i := range h.Prescriptions {
		p := &h.Prescriptions[i]
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if _, err := q.Exec(ctx, `INSERT INTO prescriptions (id, medical_history_id, medication, dosage, date)
			VALUES ($1, $2, $3, $4, $5)`, p.ID, h.ID, p.Medication, p.Dosage, p.Date); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) get(ctx context.Context, query string, arg interface{}) (*contracts.MedicalHistory, error) {
	var h contracts.MedicalHistory
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&h.ID, &h.PatientID, &h.PatientDocument, &h.Notes, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get medical history: %w", err)
	}

	if h.Diagnoses, err = collect[contracts.Diagnosis](ctx, r.pool,
		`SELECT id, description, date FROM diagnoses WHERE medical_history_id = $1 ORDER BY date`, h.ID); err != nil {
		return nil, fmt.Errorf("load diagnoses: %w", err)
	}
	if h.Exams, err = collect[contracts.Exam](ctx, r.pool,
		`SELECT id, type, date, result FROM exams WHERE medical_history_id = $1 ORDER BY date`, h.ID); err != nil {
		return nil, fmt.Errorf("load exams: %w", err)
	}
	if h.Prescriptions, err = collect[contracts.Prescription](ctx, r.pool,
		`SELECT id, medication, dosage, date FROM prescriptions WHERE medical_history_id = $1 ORDER BY date`, h.ID); err != nil {
		return nil, fmt.Errorf("load prescriptions: %w", err)
	}
	return &h, nil
}

// collect scans rows positionally into T; the select list must follow T's field order.
func collect[T any](ctx context.Context, q queryable, query string, args ...interface{}) ([]T, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[T])
}
