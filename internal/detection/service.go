// Package detection runs the upload → validate → diagnose → persist pipeline
// and serves a farmer's detection history.
package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"agridetect/internal/files"
	"agridetect/internal/inference"
	"agridetect/internal/models"
	"agridetect/internal/store"
)

var (
	ErrInvalidCoordinates  = models.ErrInvalidCoordinates
	ErrNotFound            = errors.New("detection not found")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Store interface {
	Create(ctx context.Context, d *models.Detection) error
	ByClientRef(ctx context.Context, userID, clientRef string) (*models.Detection, error)
	ByID(ctx context.Context, userID, id string) (*models.Detection, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*models.Detection, error)
	Delete(ctx context.Context, userID, id string) (*models.Detection, error)
}

type ImageStore interface {
	Save(data []byte, ext string) (string, error)
	Delete(name string) error
}

// Recorder is notified of every newly stored detection.
type Recorder interface {
	DetectionStored(d *models.Detection)
}

type Submission struct {
	Image      []byte
	Filename   string
	Latitude   *float64
	Longitude  *float64
	ClientRef  string
	CapturedAt time.Time
	Source     string
}

type Page struct {
	Limit  int
	Offset int
}

type Options struct {
	MaxImageBytes int64
	Logger        *zap.Logger
	Recorder      Recorder
}

type Service struct {
	detections Store
	images     ImageStore
	inferencer inference.Inferencer
	maxBytes   int64
	logger     *zap.Logger
	recorder   Recorder
	now        func() time.Time
}

func NewService(detections Store, images ImageStore, inf inference.Inferencer, opts Options) *Service {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = files.DefaultMaxImageBytes
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		detections: detections,
		images:     images,
		inferencer: inf,
		maxBytes:   opts.MaxImageBytes,
		logger:     opts.Logger,
		recorder:   opts.Recorder,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Detect diagnoses an uploaded image. replayed is true when ClientRef matched a
// detection already stored for the user; that detection is returned unchanged.
func (s *Service) Detect(ctx context.Context, userID string, sub Submission) (det *models.Detection, replayed bool, err error) {
	info, err := files.ValidateImage(sub.Image, s.maxBytes)
	if err != nil {
		return nil, false, err
	}
	if err := ValidateCoordinates(sub.Latitude, sub.Longitude); err != nil {
		return nil, false, err
	}

	if sub.ClientRef != "" {
		existing, err := s.detections.ByClientRef(ctx, userID, sub.ClientRef)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	imagePath, err := s.images.Save(sub.Image, info.Extension)
	if err != nil {
		return nil, false, err
	}

	diag, err := s.inferencer.Diagnose(ctx, inference.Image{Data: sub.Image, MIMEType: info.MIMEType})
	if err != nil {
		s.discardImage(imagePath)
		s.logger.Warn("inference failed",
			zap.String("user_id", userID),
			zap.String("provider", s.inferencer.Name()),
			zap.Error(err))
		return nil, false, err
	}

	now := s.now()
	d := &models.Detection{
		ID:         models.NewDetectionID(),
		UserID:     userID,
		ImagePath:  imagePath,
		ClientRef:  sub.ClientRef,
		Source:     sub.Source,
		Diagnosis:  *diag,
		Latitude:   sub.Latitude,
		Longitude:  sub.Longitude,
		CapturedAt: sub.CapturedAt,
		CreatedAt:  now,
	}
	if d.Source == "" {
		d.Source = models.SourceLive
	}
	if d.CapturedAt.IsZero() || d.CapturedAt.After(now) {
		d.CapturedAt = now
	}

	if err := s.detections.Create(ctx, d); err != nil {
		s.discardImage(imagePath)
		// a concurrent replay of the same ref won the insert
		if errors.Is(err, store.ErrDuplicate) && sub.ClientRef != "" {
			existing, lerr := s.detections.ByClientRef(ctx, userID, sub.ClientRef)
			if lerr == nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("save detection: %w", err)
	}

	if s.recorder != nil {
		s.recorder.DetectionStored(d)
	}
	s.logger.Info("detection stored",
		zap.String("id", d.ID),
		zap.String("user_id", userID),
		zap.String("disease", d.Diagnosis.DiseaseName),
		zap.String("severity", string(d.Diagnosis.Severity)),
		zap.String("source", d.Source))
	return d, false, nil
}

// History returns the user's detections newest first.
func (s *Service) History(ctx context.Context, userID string, page Page) ([]*models.Detection, error) {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}
	return s.detections.List(ctx, userID, page.Limit, page.Offset)
}

func (s *Service) Get(ctx context.Context, userID, id string) (*models.Detection, error) {
	d, err := s.detections.ByID(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return d, err
}

// Delete removes the row and its image file.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	d, err := s.detections.Delete(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.discardImage(d.ImagePath)
	return nil
}

func (s *Service) discardImage(name string) {
	if err := s.images.Delete(name); err != nil {
		s.logger.Warn("failed to remove image", zap.String("image", name), zap.Error(err))
	}
}

// ValidateCoordinates requires both or neither coordinate, each within range.
func ValidateCoordinates(lat, lng *float64) error {
	return models.ValidateCoordinates(lat, lng)
}
