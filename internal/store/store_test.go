package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agridetect/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "agridetect.db")}
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createUser(t *testing.T, db *DB, email string) *models.User {
	t.Helper()
	u := &models.User{Email: email, FullName: "Test Farmer", PasswordHash: "hash"}
	require.NoError(t, db.Users.Create(context.Background(), u))
	return u
}

func ptr(f float64) *float64 { return &f }

func newDetection(userID, disease string, sev models.Severity) *models.Detection {
	return &models.Detection{
		UserID:    userID,
		ImagePath: "uploads/detections/x.jpg",
		Diagnosis: models.Diagnosis{
			DiseaseName: disease,
			Severity:    sev,
			Treatment:   []string{"Remove infected leaves"},
			Confidence:  0.8,
		},
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &DB{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestMigrateIsIdempotent(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "m.db")}
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, cfg, "up"))
	require.NoError(t, Migrate(ctx, cfg, "up"))

	m, err := NewMigrator(cfg)
	require.NoError(t, err)
	v, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), v)

	require.NoError(t, Migrate(ctx, cfg, "down"))
	v, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	assert.Error(t, Migrate(ctx, cfg, "sideways"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	u := createUser(t, db, " Farmer@Example.com ")
	assert.True(t, models.ValidID(u.ID))
	assert.Equal(t, "farmer@example.com", u.Email)
	assert.Equal(t, models.RoleFarmer, u.Role)

	err := db.Users.Create(ctx, &models.User{Email: "FARMER@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := db.Users.ByEmail(ctx, "farmer@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.LastLogin.IsZero())

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, db.Users.TouchLogin(ctx, u.ID, now))
	got, err = db.Users.ByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, now.Equal(got.LastLogin))

	_, err = db.Users.ByID(ctx, "u--missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.Users.TouchLogin(ctx, "u--missing", now), ErrNotFound)

	n, err := db.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDetectionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, "a@example.com")

	d := newDetection(u.ID, "Tomato Late Blight", models.SeverityHigh)
	d.ClientRef = "p--1"
	d.Latitude, d.Longitude = ptr(12.5), ptr(-70.25)
	d.Diagnosis.Regional = &models.RegionalText{Name: "Tizón tardío", Treatment: []string{"Aplicar fungicida"}}
	require.NoError(t, db.Detections.Create(ctx, d))

	got, err := db.Detections.ByID(ctx, u.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "Tomato Late Blight", got.Diagnosis.DiseaseName)
	assert.Equal(t, models.SeverityHigh, got.Diagnosis.Severity)
	assert.Equal(t, []string{"Remove infected leaves"}, got.Diagnosis.Treatment)
	require.NotNil(t, got.Diagnosis.Regional)
	assert.Equal(t, "Tizón tardío", got.Diagnosis.Regional.Name)
	require.True(t, got.Geotagged())
	assert.Equal(t, 12.5, *got.Latitude)
	assert.Equal(t, models.SourceLive, got.Source)

	byRef, err := db.Detections.ByClientRef(ctx, u.ID, "p--1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byRef.ID)
}

func TestDetectionDuplicateClientRef(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, "a@example.com")
	other := createUser(t, db, "b@example.com")

	first := newDetection(u.ID, "Healthy", models.SeverityLow)
	first.ClientRef = "p--same"
	require.NoError(t, db.Detections.Create(ctx, first))

	dup := newDetection(u.ID, "Healthy", models.SeverityLow)
	dup.ClientRef = "p--same"
	err := db.Detections.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.True(t, IsDuplicate(err))

	// the ref is scoped per user
	theirs := newDetection(other.ID, "Healthy", models.SeverityLow)
	theirs.ClientRef = "p--same"
	require.NoError(t, db.Detections.Create(ctx, theirs))

	// rows without a ref never collide
	require.NoError(t, db.Detections.Create(ctx, newDetection(u.ID, "Healthy", models.SeverityLow)))
	require.NoError(t, db.Detections.Create(ctx, newDetection(u.ID, "Healthy", models.SeverityLow)))

	_, err = db.Detections.ByClientRef(ctx, u.ID, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDetectionListAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, "a@example.com")
	other := createUser(t, db, "b@example.com")

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		d := newDetection(u.ID, "Healthy", models.SeverityLow)
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.Detections.Create(ctx, d))
		ids = append(ids, d.ID)
	}

	list, err := db.Detections.List(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)

	page, err := db.Detections.List(ctx, u.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := db.Detections.List(ctx, other.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = db.Detections.ByID(ctx, other.ID, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Detections.Delete(ctx, other.ID, ids[0])
	assert.ErrorIs(t, err, ErrNotFound)

	removed, err := db.Detections.Delete(ctx, u.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "uploads/detections/x.jpg", removed.ImagePath)

	n, err := db.Detections.CountByUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStatsAndMap(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a := createUser(t, db, "a@example.com")
	b := createUser(t, db, "b@example.com")
	createUser(t, db, "idle@example.com")

	old := newDetection(a.ID, "Potato Early Blight", models.SeverityMedium)
	old.CreatedAt = time.Now().UTC().AddDate(0, 0, -60)
	require.NoError(t, db.Detections.Create(ctx, old))

	for i := 0; i < 2; i++ {
		d := newDetection(a.ID, "Tomato Late Blight", models.SeverityHigh)
		d.Latitude, d.Longitude = ptr(1), ptr(2)
		require.NoError(t, db.Detections.Create(ctx, d))
	}
	require.NoError(t, db.Detections.Create(ctx, newDetection(b.ID, "Healthy", models.SeverityLow)))

	st, err := db.Detections.Stats(ctx, time.Now().UTC().AddDate(0, 0, -30), 5)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalDetections)
	assert.Equal(t, 3, st.TotalUsers)
	assert.Equal(t, 2, st.ActiveUsers)
	assert.Equal(t, 2, st.BySeverity[models.SeverityHigh])
	assert.Equal(t, 1, st.BySeverity[models.SeverityLow])
	assert.Zero(t, st.BySeverity[models.SeverityMedium])
	require.NotEmpty(t, st.TopDiseases)
	assert.Equal(t, models.DiseaseCount{Name: "Tomato Late Blight", Count: 2}, st.TopDiseases[0])
	assert.InDelta(t, 0.8, st.AvgConfidence, 1e-9)

	points, err := db.Detections.MapPoints(ctx, 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 1.0, points[0].Lat)
	assert.Equal(t, models.SeverityHigh, points[0].Severity)
}

func TestDiseases(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	defaults := []models.Disease{
		{Name: "Healthy", Treatment: []string{"Continue regular care"}},
		{Name: "Apple Scab", Treatment: []string{"Apply fungicide"}},
	}
	n, err := db.Diseases.Seed(ctx, defaults)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = db.Diseases.Seed(ctx, defaults)
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := db.Diseases.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Apple Scab", list[0].Name)

	require.NoError(t, db.Diseases.Upsert(ctx, &models.Disease{Name: "Apple Scab", Treatment: []string{"Prune", "Rake leaves"}}))
	got, err := db.Diseases.Get(ctx, "Apple Scab")
	require.NoError(t, err)
	assert.Equal(t, []string{"Prune", "Rake leaves"}, got.Treatment)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = db.Diseases.Get(ctx, "Unknown")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, db.Diseases.Upsert(ctx, &models.Disease{Name: "  "}))
}
