package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"facegate/internal/domain"
)

// Config tunes the Haar cascade search.
type Config struct {
	CascadePath  string
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

func DefaultConfig() Config {
	return Config{
		CascadePath:  "haarcascade_frontalface_default.xml",
		ScaleFactor:  1.1,
		MinNeighbors: 5,
		MinSize:      60,
	}
}

// Detector finds frontal faces locally with an OpenCV cascade classifier.
type Detector struct {
	cfg Config

	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	closed     bool
}

func NewDetector(cfg Config) (*Detector, error) {
	defaults := DefaultConfig()
	if cfg.CascadePath == "" {
		cfg.CascadePath = defaults.CascadePath
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = defaults.ScaleFactor
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = defaults.MinNeighbors
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadePath) {
		_ = classifier.Close()
		return nil, fmt.Errorf("failed to load face cascade classifier %q", cfg.CascadePath)
	}

	return &Detector{cfg: cfg, classifier: classifier}, nil
}

func (d *Detector) Detect(ctx context.Context, frame domain.Frame) ([]domain.FaceRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frame.Data) == 0 {
		return nil, errors.New("frame has no image data")
	}

	img, err := gocv.IMDecode(frame.Data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, errors.New("failed to decode frame: empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("detector is closed")
	}

	minSize := image.Pt(d.cfg.MinSize, d.cfg.MinSize)
	rects := d.classifier.DetectMultiScaleWithParams(gray, d.cfg.ScaleFactor, d.cfg.MinNeighbors, 0, minSize, image.Point{})
	return toRegions(rects), nil
}

// Close releases the classifier. Detect fails afterwards.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.classifier.Close()
}

// Haar cascades do not score detections, so every hit reports full confidence.
func toRegions(rects []image.Rectangle) []domain.FaceRegion {
	if len(rects) == 0 {
		return nil
	}
	regions := make([]domain.FaceRegion, 0, len(rects))
	for _, r := range rects {
		regions = append(regions, domain.FaceRegion{
			X:          r.Min.X,
			Y:          r.Min.Y,
			Width:      r.Dx(),
			Height:     r.Dy(),
			Confidence: 1,
		})
	}
	return regions
}
