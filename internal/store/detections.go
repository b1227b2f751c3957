package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agridetect/internal/models"
)

type DetectionRepo struct {
	db *DB
}

func NewDetectionRepo(db *DB) *DetectionRepo { return &DetectionRepo{db: db} }

const detectionColumns = `id, user_id, image_path, client_ref, source, disease_name, description,
	severity, treatment, confidence, regional, latitude, longitude, captured_at, created_at`

// Create persists a detection. A second row with the same (user, client_ref)
// yields ErrDuplicate; the stored row is reachable through ByClientRef.
func (r *DetectionRepo) Create(ctx context.Context, d *models.Detection) error {
	if d.ID == "" {
		d.ID = models.NewDetectionID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.CapturedAt.IsZero() {
		d.CapturedAt = d.CreatedAt
	}
	if d.Source == "" {
		d.Source = models.SourceLive
	}

	treatment, err := json.Marshal(nonNil(d.Diagnosis.Treatment))
	if err != nil {
		return err
	}
	var regional sql.NullString
	if d.Diagnosis.Regional != nil {
		b, err := json.Marshal(d.Diagnosis.Regional)
		if err != nil {
			return err
		}
		regional = sql.NullString{String: string(b), Valid: true}
	}
	clientRef := sql.NullString{String: d.ClientRef, Valid: d.ClientRef != ""}

	_, err = r.db.exec(ctx,
		`INSERT INTO detections (`+detectionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.ImagePath, clientRef, d.Source, d.Diagnosis.DiseaseName, d.Diagnosis.Description,
		string(d.Diagnosis.Severity), string(treatment), d.Diagnosis.Confidence, regional,
		nullFloat(d.Latitude), nullFloat(d.Longitude), toMillis(d.CapturedAt), toMillis(d.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("detection %s/%s: %w", d.UserID, d.ClientRef, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert detection: %w", err)
	}
	return nil
}

func (r *DetectionRepo) ByClientRef(ctx context.Context, userID, clientRef string) (*models.Detection, error) {
	if clientRef == "" {
		return nil, ErrNotFound
	}
	rows, err := r.db.query(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE user_id = ? AND client_ref = ?`, userID, clientRef)
	if err != nil {
		return nil, err
	}
	return firstDetection(rows)
}

// ByID returns a detection owned by userID. Other users' rows are reported as ErrNotFound.
func (r *DetectionRepo) ByID(ctx context.Context, userID, id string) (*models.Detection, error) {
	rows, err := r.db.query(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, err
	}
	return firstDetection(rows)
}

// List returns a user's detections newest first.
func (r *DetectionRepo) List(ctx context.Context, userID string, limit, offset int) ([]*models.Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.query(ctx,
		`SELECT `+detectionColumns+` FROM detections WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Detection, 0)
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DetectionRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM detections WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

// Delete removes a detection and returns it so the caller can drop the image file.
func (r *DetectionRepo) Delete(ctx context.Context, userID, id string) (*models.Detection, error) {
	d, err := r.ByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	res, err := r.db.exec(ctx, `DELETE FROM detections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return nil, fmt.Errorf("delete detection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return d, nil
}

// Stats aggregates detections created at or after since. topN bounds TopDiseases.
func (r *DetectionRepo) Stats(ctx context.Context, since time.Time, topN int) (*models.Stats, error) {
	if topN <= 0 {
		topN = 5
	}
	from := toMillis(since)
	st := &models.Stats{
		BySeverity:  map[models.Severity]int{},
		TopDiseases: []models.DiseaseCount{},
		Since:       since,
	}

	err := r.db.queryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(AVG(confidence), 0)
		 FROM detections WHERE created_at >= ?`, from).
		Scan(&st.TotalDetections, &st.ActiveUsers, &st.AvgConfidence)
	if err != nil {
		return nil, fmt.Errorf("detection totals: %w", err)
	}
	if err := r.db.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.TotalUsers); err != nil {
		return nil, fmt.Errorf("user total: %w", err)
	}

	rows, err := r.db.query(ctx,
		`SELECT severity, COUNT(*) FROM detections WHERE created_at >= ? GROUP BY severity`, from)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			rows.Close()
			return nil, err
		}
		st.BySeverity[models.Severity(sev)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.query(ctx,
		`SELECT disease_name, COUNT(*) AS n FROM detections WHERE created_at >= ?
		 GROUP BY disease_name ORDER BY n DESC, disease_name LIMIT ?`, from, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var dc models.DiseaseCount
		if err := rows.Scan(&dc.Name, &dc.Count); err != nil {
			return nil, err
		}
		st.TopDiseases = append(st.TopDiseases, dc)
	}
	return st, rows.Err()
}

// MapPoints returns the most recent geotagged detections across all users.
func (r *DetectionRepo) MapPoints(ctx context.Context, limit int) ([]models.MapPoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.query(ctx,
		`SELECT id, latitude, longitude, disease_name, severity, created_at FROM detections
		 WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.MapPoint, 0)
	for rows.Next() {
		var (
			p       models.MapPoint
			sev     string
			created int64
		)
		if err := rows.Scan(&p.ID, &p.Lat, &p.Lng, &p.Disease, &sev, &created); err != nil {
			return nil, err
		}
		p.Severity = models.Severity(sev)
		p.Date = fromMillis(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

func firstDetection(rows *sql.Rows) (*models.Detection, error) {
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanDetection(rows)
}

func scanDetection(rows *sql.Rows) (*models.Detection, error) {
	var (
		d                 models.Detection
		clientRef         sql.NullString
		regional          sql.NullString
		lat, lng          sql.NullFloat64
		severity          string
		treatment         string
		captured, created int64
	)
	err := rows.Scan(&d.ID, &d.UserID, &d.ImagePath, &clientRef, &d.Source, &d.Diagnosis.DiseaseName,
		&d.Diagnosis.Description, &severity, &treatment, &d.Diagnosis.Confidence, &regional,
		&lat, &lng, &captured, &created)
	if err != nil {
		return nil, err
	}
	d.ClientRef = clientRef.String
	d.Diagnosis.Severity = models.Severity(severity)
	if err := json.Unmarshal([]byte(treatment), &d.Diagnosis.Treatment); err != nil {
		return nil, fmt.Errorf("decode treatment for %s: %w", d.ID, err)
	}
	if regional.Valid {
		var rt models.RegionalText
		if err := json.Unmarshal([]byte(regional.String), &rt); err != nil {
			return nil, fmt.Errorf("decode regional text for %s: %w", d.ID, err)
		}
		d.Diagnosis.Regional = &rt
	}
	if lat.Valid {
		d.Latitude = &lat.Float64
	}
	if lng.Valid {
		d.Longitude = &lng.Float64
	}
	d.CapturedAt = fromMillis(captured)
	d.CreatedAt = fromMillis(created)
	return &d, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// IsDuplicate reports whether err came from a unique-constraint violation.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
