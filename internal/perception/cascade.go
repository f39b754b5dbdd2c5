//go:build gocv

package perception

import (
	"context"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"github.com/banshee-data/pursuit/internal/targeting"
)

// CascadeConfig holds camera and Haar-cascade detector settings.
type CascadeConfig struct {
	Device        int     // video device index
	Width, Height int     // capture size; targeting thresholds assume 640x360
	ModelPath     string  // cascade XML
	ScaleFactor   float64 // image pyramid step
	MinNeighbors  int     // detections needed to keep a candidate
}

// DefaultCascadeConfig returns the settings the rover was tuned with.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		Device:       0,
		Width:        640,
		Height:       360,
		ModelPath:    "models/haarcascade_frontalface_default.xml",
		ScaleFactor:  1.1,
		MinNeighbors: 9,
	}
}

// Cascade reads frames from a camera and runs an OpenCV cascade classifier on
// each one.
type Cascade struct {
	cfg        CascadeConfig
	capture    *gocv.VideoCapture
	classifier gocv.CascadeClassifier
	img        gocv.Mat
	gray       gocv.Mat
}

// OpenCascade opens the camera and loads the classifier model.
func OpenCascade(cfg CascadeConfig) (*Cascade, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("cascade model not found: %w", err)
	}

	capture, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", cfg.Device, err)
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.ModelPath) {
		classifier.Close()
		capture.Close()
		return nil, fmt.Errorf("failed to load cascade %s", cfg.ModelPath)
	}

	return &Cascade{
		cfg:        cfg,
		capture:    capture,
		classifier: classifier,
		img:        gocv.NewMat(),
		gray:       gocv.NewMat(),
	}, nil
}

func (c *Cascade) read() error {
	if ok := c.capture.Read(&c.img); !ok || c.img.Empty() {
		return fmt.Errorf("camera %d returned no image", c.cfg.Device)
	}
	return nil
}

// NextFrame captures an image and returns the detected boxes.
func (c *Cascade) NextFrame(ctx context.Context) (targeting.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.read(); err != nil {
		return nil, err
	}
	gocv.CvtColor(c.img, &c.gray, gocv.ColorBGRToGray)

	rects := c.classifier.DetectMultiScaleWithParams(
		c.gray, c.cfg.ScaleFactor, c.cfg.MinNeighbors, 0, image.Point{}, image.Point{},
	)
	frame := make(targeting.Frame, 0, len(rects))
	for _, r := range rects {
		frame = append(frame, targeting.Region{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()})
	}
	return frame, nil
}

// Skip captures and discards one image without running detection, keeping the
// camera's internal buffer from going stale.
func (c *Cascade) Skip(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.read()
}

// Close releases the camera and classifier.
func (c *Cascade) Close() error {
	c.img.Close()
	c.gray.Close()
	c.classifier.Close()
	return c.capture.Close()
}
