package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/medface/internal/config"
	"github.com/your-org/medface/internal/models"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS patients (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	age         INT NOT NULL CHECK (age >= 0),
	blood_group TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS face_encodings (
	seq        BIGSERIAL PRIMARY KEY,
	patient_id TEXT NOT NULL UNIQUE REFERENCES patients(id),
	encoding   vector NOT NULL
);

CREATE TABLE IF NOT EXISTS patient_records (
	seq        BIGSERIAL PRIMARY KEY,
	patient_id TEXT NOT NULL REFERENCES patients(id),
	filename   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS patient_records_patient_idx ON patient_records (patient_id, seq);

CREATE TABLE IF NOT EXISTS audit_log (
	seq        BIGSERIAL PRIMARY KEY,
	patient_id TEXT NOT NULL,
	action     TEXT NOT NULL,
	file       TEXT NOT NULL,
	role       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore serves the gallery and record index from Postgres, with
// encodings in a pgvector column. Enumeration order is insertion order.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(ctx, cfg.DSN(), cfg.MaxConns)
}

func NewPostgresStoreFromDSN(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Gallery ---

func (s *PostgresStore) Register(ctx context.Context, profile models.Profile, encoding []float32) (string, error) {
	if err := profile.Validate(); err != nil {
		return "", err
	}
	if err := checkEncoding(encoding); err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New().String()
	if _, err := tx.Exec(ctx,
		`INSERT INTO patients (id, name, age, blood_group) VALUES ($1, $2, $3, $4)`,
		id, profile.Name, profile.Age, profile.BloodGroup,
	); err != nil {
		return "", fmt.Errorf("insert patient: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO face_encodings (patient_id, encoding) VALUES ($1, $2)`,
		id, pgvector.NewVector(encoding),
	); err != nil {
		return "", fmt.Errorf("insert encoding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit register: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := s.pool.QueryRow(ctx,
		`SELECT name, age, blood_group FROM patients WHERE id = $1`, id,
	).Scan(&p.Name, &p.Age, &p.BloodGroup)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Profile{}, fmt.Errorf("patient %s: %w", id, models.ErrNotFound)
		}
		return models.Profile{}, fmt.Errorf("get patient: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check patient: %w", err)
	}
	return exists, nil
}

// Entries streams encodings in insertion order. Rows are read lazily; breaking
// out of the range closes the cursor.
func (s *PostgresStore) Entries(ctx context.Context) iter.Seq2[models.GalleryEntry, error] {
	return func(yield func(models.GalleryEntry, error) bool) {
		rows, err := s.pool.Query(ctx,
			`SELECT patient_id, encoding FROM face_encodings ORDER BY seq`)
		if err != nil {
			yield(models.GalleryEntry{}, fmt.Errorf("list encodings: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id  string
				vec pgvector.Vector
			)
			if err := rows.Scan(&id, &vec); err != nil {
				yield(models.GalleryEntry{}, fmt.Errorf("scan encoding: %w", err))
				return
			}
			if !yield(models.GalleryEntry{ID: id, Encoding: vec.Slice()}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.GalleryEntry{}, fmt.Errorf("iterate encodings: %w", err))
		}
	}
}

func (s *PostgresStore) ListPatients(ctx context.Context) ([]models.Patient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.name, p.age, p.blood_group, p.created_at
		FROM patients p
		JOIN face_encodings fe ON fe.patient_id = p.id
		ORDER BY fe.seq`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		var p models.Patient
		if err := rows.Scan(&p.ID, &p.Profile.Name, &p.Profile.Age, &p.Profile.BloodGroup, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM face_encodings`).Scan(&count)
	return count, err
}

// --- Record index ---

func (s *PostgresStore) Link(ctx context.Context, patientID, filename string) ([]string, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO patient_records (patient_id, filename)
		SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM patients WHERE id = $1)`,
		patientID, filename)
	if err != nil {
		return nil, fmt.Errorf("link record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrUnknownPatient)
	}
	return s.ListFor(ctx, patientID)
}

func (s *PostgresStore) ListFor(ctx context.Context, patientID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT filename FROM patient_records WHERE patient_id = $1 ORDER BY seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, name)
	}
	return records, rows.Err()
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry models.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (patient_id, action, file, role) VALUES ($1, $2, $3, $4)`,
		entry.PatientID, entry.Action, entry.File, entry.Role)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Audit(ctx context.Context, patientID string) ([]models.AuditEntry, error) {
	query := `SELECT patient_id, action, file, role FROM audit_log ORDER BY seq`
	var args []interface{}
	if patientID != "" {
		query = `SELECT patient_id, action, file, role FROM audit_log WHERE patient_id = $1 ORDER BY seq`
		args = append(args, patientID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.PatientID, &e.Action, &e.File, &e.Role); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
