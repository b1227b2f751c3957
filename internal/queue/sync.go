package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agridetect/internal/client"
	"agridetect/internal/files"
	"agridetect/internal/models"
)

// Submitter uploads one pending item. Errors are classified with
// client.IsOffline, client.IsUnauthorized and client.IsPermanent.
type Submitter interface {
	Submit(ctx context.Context, p *models.PendingDetection) error
}

// ClientSubmitter replays items through the API client, using the item ID as client_ref.
type ClientSubmitter struct {
	Client *client.Client
}

func (s ClientSubmitter) Submit(ctx context.Context, p *models.PendingDetection) error {
	_, _, err := s.Client.Detect(ctx, client.Submission{
		Image:      p.Image,
		Filename:   p.Filename,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		ClientRef:  p.ID,
		CapturedAt: p.Timestamp,
	})
	return err
}

type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type Report struct {
	Synced   int         `json:"synced"`
	Rejected int         `json:"rejected"`
	Failed   int         `json:"failed"`
	Stopped  bool        `json:"stopped"`
	Errors   []ItemError `json:"errors,omitempty"`
}

// Remaining is the number of items still queued after the drain.
func (r *Report) Remaining(before int) int { return before - r.Synced - r.Rejected }

type Syncer struct {
	store  Store
	logger *zap.Logger
}

func NewSyncer(store Store, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{store: store, logger: logger}
}

// Drain replays every pending item oldest first. It stops early, leaving the
// rest untouched, when the server goes offline, rejects the token, or ctx ends.
func (s *Syncer) Drain(ctx context.Context, sub Submitter) (*Report, error) {
	items, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	rep := &Report{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			rep.Stopped = true
			return rep, err
		}

		err := sub.Submit(ctx, item)
		switch {
		case err == nil:
			if rerr := s.store.Remove(ctx, item.ID); rerr != nil {
				return rep, fmt.Errorf("remove synced %s: %w", item.ID, rerr)
			}
			rep.Synced++
			s.logger.Info("pending detection synced", zap.String("id", item.ID))

		case client.IsOffline(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			rep.Stopped = true
			s.logger.Warn("sync stopped: server unreachable", zap.String("id", item.ID), zap.Error(err))
			return rep, nil

		case client.IsUnauthorized(err):
			rep.Stopped = true
			return rep, err

		case client.IsPermanent(err):
			if rerr := s.store.Remove(ctx, item.ID); rerr != nil {
				return rep, fmt.Errorf("remove rejected %s: %w", item.ID, rerr)
			}
			rep.Rejected++
			rep.Errors = append(rep.Errors, ItemError{ID: item.ID, Error: err.Error()})
			s.logger.Warn("pending detection rejected", zap.String("id", item.ID), zap.Error(err))

		default:
			item.Attempts++
			item.LastError = err.Error()
			if uerr := s.store.Update(ctx, item); uerr != nil {
				return rep, fmt.Errorf("update failed %s: %w", item.ID, uerr)
			}
			rep.Failed++
			rep.Errors = append(rep.Errors, ItemError{ID: item.ID, Error: err.Error()})
			s.logger.Warn("pending detection failed", zap.String("id", item.ID),
				zap.Int("attempts", item.Attempts), zap.Error(err))
		}
	}
	return rep, nil
}

// Capture is an image taken in the field plus its metadata.
type Capture struct {
	// ID is minted when empty. Callers that already sent the capture with a
	// client_ref pass that ref so the queued copy replays idempotently.
	ID        string
	Image     []byte
	Filename  string
	Latitude  *float64
	Longitude *float64
	Timestamp time.Time
	DeviceID  string
}

// Enqueue validates a capture with the server's rules and queues it.
func Enqueue(ctx context.Context, store Store, c Capture, maxBytes int64) (*models.PendingDetection, error) {
	if _, err := files.ValidateImage(c.Image, maxBytes); err != nil {
		return nil, err
	}
	if err := models.ValidateCoordinates(c.Latitude, c.Longitude); err != nil {
		return nil, err
	}
	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := c.ID
	if id == "" {
		id = models.NewPendingID()
	}
	p := &models.PendingDetection{
		ID:        id,
		Image:     c.Image,
		Filename:  c.Filename,
		Timestamp: ts,
		Latitude:  c.Latitude,
		Longitude: c.Longitude,
		DeviceID:  c.DeviceID,
	}
	if err := store.Add(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
