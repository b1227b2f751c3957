package inference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"

	"agridetect/internal/models"
)

// LocalInferencer is the offline classifier: it picks a class from the
// knowledge base deterministically from the image hash.
type LocalInferencer struct {
	kb     KnowledgeBase
	logger *zap.Logger
}

func NewLocalInferencer(kb KnowledgeBase, logger *zap.Logger) *LocalInferencer {
	if kb == nil {
		kb = StaticKnowledgeBase{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalInferencer{kb: kb, logger: logger}
}

func (l *LocalInferencer) Name() string { return "local" }

func (l *LocalInferencer) Diagnose(ctx context.Context, img Image) (*models.Diagnosis, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInferenceFailed)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	diseases, err := l.kb.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: knowledge base: %v", ErrInferenceFailed, err)
	}
	if len(diseases) == 0 {
		diseases = DefaultDiseases()
	}

	sum := sha256.Sum256(img.Data)
	pick := diseases[binary.BigEndian.Uint64(sum[:8])%uint64(len(diseases))]
	frac := float64(binary.BigEndian.Uint32(sum[8:12])) / float64(math.MaxUint32)
	conf := math.Round((0.75+frac*0.23)*1e4) / 1e4

	treatment := append([]string(nil), pick.Treatment...)
	if len(treatment) == 0 {
		treatment = TreatmentFor(pick.Name)
	}
	l.logger.Debug("local diagnosis", zap.String("disease", pick.Name), zap.Float64("confidence", conf))
	return &models.Diagnosis{
		DiseaseName: pick.Name,
		Severity:    SeverityFor(conf, pick.Name),
		Treatment:   treatment,
		Confidence:  conf,
	}, nil
}
