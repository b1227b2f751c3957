package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"agridetect/internal/models"
)

type DiseaseRepo struct {
	db *DB
}

func NewDiseaseRepo(db *DB) *DiseaseRepo { return &DiseaseRepo{db: db} }

func (r *DiseaseRepo) List(ctx context.Context) ([]models.Disease, error) {
	rows, err := r.db.query(ctx, `SELECT name, treatment, updated_at FROM diseases ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Disease, 0)
	for rows.Next() {
		var (
			d         models.Disease
			treatment string
			updated   int64
		)
		if err := rows.Scan(&d.Name, &treatment, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(treatment), &d.Treatment); err != nil {
			return nil, fmt.Errorf("decode treatment for %s: %w", d.Name, err)
		}
		d.UpdatedAt = fromMillis(updated)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DiseaseRepo) Get(ctx context.Context, name string) (*models.Disease, error) {
	var (
		d         models.Disease
		treatment string
		updated   int64
	)
	err := r.db.queryRow(ctx, `SELECT name, treatment, updated_at FROM diseases WHERE name = ?`, name).
		Scan(&d.Name, &treatment, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(treatment), &d.Treatment); err != nil {
		return nil, fmt.Errorf("decode treatment for %s: %w", d.Name, err)
	}
	d.UpdatedAt = fromMillis(updated)
	return &d, nil
}

// Upsert inserts or replaces a knowledge-base entry.
func (r *DiseaseRepo) Upsert(ctx context.Context, d *models.Disease) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("disease name is required")
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	treatment, err := json.Marshal(nonNil(d.Treatment))
	if err != nil {
		return err
	}
	_, err = r.db.exec(ctx,
		`INSERT INTO diseases (name, treatment, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET treatment = excluded.treatment, updated_at = excluded.updated_at`,
		d.Name, string(treatment), toMillis(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert disease: %w", err)
	}
	return nil
}

// Seed inserts entries only when the table is empty, so admin edits survive restarts.
func (r *DiseaseRepo) Seed(ctx context.Context, defaults []models.Disease) (int, error) {
	var n int
	if err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM diseases`).Scan(&n); err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	for i := range defaults {
		d := defaults[i]
		if err := r.Upsert(ctx, &d); err != nil {
			return i, err
		}
	}
	return len(defaults), nil
}
