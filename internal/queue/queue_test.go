package queue

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agridetect/internal/models"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func pending(id string, ts time.Time) *models.PendingDetection {
	return &models.PendingDetection{ID: id, Image: []byte{1, 2, 3}, Timestamp: ts}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	b, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	f, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{"badger": b, "file": f}
}

func TestStoreContract(t *testing.T) {
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.Add(ctx, pending("p--b", base.Add(2*time.Minute))))
			require.NoError(t, s.Add(ctx, pending("p--a", base)))
			require.NoError(t, s.Add(ctx, pending("p--c", base.Add(time.Minute))))
			assert.ErrorIs(t, s.Add(ctx, pending("p--a", base)), ErrDuplicate)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"p--a", "p--c", "p--b"}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.Equal(t, []byte{1, 2, 3}, list[0].Image)

			item, err := s.Get(ctx, "p--c")
			require.NoError(t, err)
			item.Attempts = 2
			item.LastError = "502"
			require.NoError(t, s.Update(ctx, item))
			got, err := s.Get(ctx, "p--c")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Attempts)
			assert.Equal(t, "502", got.LastError)

			_, err = s.Get(ctx, "p--zzz")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Update(ctx, pending("p--zzz", base)), ErrNotFound)

			require.NoError(t, s.Remove(ctx, "p--a"))
			require.NoError(t, s.Remove(ctx, "p--a"))
			n, err = s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			require.NoError(t, s.Clear(ctx))
			n, err = s.Len(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
			list, err = s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, pending("p--1", time.Now())))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := os.Stat(filepath.Join(dir, queueFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, os.WriteFile(filepath.Join(dir, queueFileName), []byte("{broken"), 0600))
	_, err = NewFileStore(dir)
	assert.Error(t, err)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Add(ctx, pending("p--1", time.Now())))
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "p--1")
	require.NoError(t, err)
	assert.Equal(t, "p--1", got.ID)

	_, err = OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	lat, lng := 4.6, -74.1
	p, err := Enqueue(ctx, s, Capture{Image: testPNG(t), Filename: "leaf.png", Latitude: &lat, Longitude: &lng, DeviceID: "dev-1"}, 0)
	require.NoError(t, err)
	assert.True(t, models.ValidID(p.ID))
	assert.False(t, p.Timestamp.IsZero())

	_, err = Enqueue(ctx, s, Capture{Image: []byte("not an image")}, 0)
	assert.Error(t, err)
	_, err = Enqueue(ctx, s, Capture{Image: testPNG(t), Latitude: &lat}, 0)
	assert.ErrorIs(t, err, models.ErrInvalidCoordinates)

	// a capture already sent live keeps its ref as the queue ID
	p, err = Enqueue(ctx, s, Capture{ID: "p--sent-live", Image: testPNG(t)}, 0)
	require.NoError(t, err)
	assert.Equal(t, "p--sent-live", p.ID)
	_, err = Enqueue(ctx, s, Capture{ID: "p--sent-live", Image: testPNG(t)}, 0)
	assert.ErrorIs(t, err, ErrDuplicate)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
