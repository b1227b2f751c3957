// Package queue holds detections captured without connectivity and replays
// them to the server once it is reachable again.
package queue

import (
	"context"
	"errors"
	"sort"

	"agridetect/internal/models"
)

var (
	ErrDuplicate = errors.New("pending detection already queued")
	ErrNotFound  = errors.New("pending detection not found")
)

// Store persists pending detections. List is ordered oldest first and
// Remove of an unknown ID is not an error.
type Store interface {
	Add(ctx context.Context, p *models.PendingDetection) error
	List(ctx context.Context) ([]*models.PendingDetection, error)
	Get(ctx context.Context, id string) (*models.PendingDetection, error)
	Update(ctx context.Context, p *models.PendingDetection) error
	Remove(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

func sortOldestFirst(items []*models.PendingDetection) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].ID < items[j].ID
		}
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
}
