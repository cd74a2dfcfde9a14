package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Webcam is a Device backed by an OpenCV video capture.
type Webcam struct {
	deviceID int
	logger   *slog.Logger
}

// NewWebcam creates a webcam device for the given OpenCV device index.
func NewWebcam(deviceID int, logger *slog.Logger) *Webcam {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webcam{
		deviceID: deviceID,
		logger:   logger.With("component", "capture.webcam", "device", deviceID),
	}
}

// Open starts capturing. Frames are read and JPEG-encoded on a background
// goroutine; the stream only ever hands out the latest encoded frame.
func (w *Webcam) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %d: %v", ErrDenied, w.deviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d not available", ErrDenied, w.deviceID)
	}

	if c.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	if c.Framerate > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(c.Framerate))
	}

	quality := c.Quality
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	s := &webcamStream{
		vc:      vc,
		quality: quality,
		logger:  w.logger,
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

type webcamStream struct {
	vc      *gocv.VideoCapture
	quality int
	logger  *slog.Logger

	mu     sync.RWMutex
	latest []byte
	width  int
	height int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *webcamStream) readLoop() {
	defer s.wg.Done()

	mat := gocv.NewMat()
	defer mat.Close()

	params := []int{gocv.IMWriteJpegQuality, s.quality}
	misses := 0

	for {
		select {
		case <-s.done:
			return
		default:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			misses++
			if misses == 50 {
				s.logger.Warn("webcam stopped delivering frames")
				s.mu.Lock()
				s.width, s.height = 0, 0
				s.mu.Unlock()
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		misses = 0

		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, params)
		if err != nil {
			s.logger.Debug("jpeg encode failed", "error", err)
			continue
		}
		data := append([]byte(nil), buf.GetBytes()...)
		buf.Close()

		s.mu.Lock()
		s.latest = data
		s.width, s.height = mat.Cols(), mat.Rows()
		s.mu.Unlock()
	}
}

func (s *webcamStream) Dimensions() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

func (s *webcamStream) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNotReady
	}
	return s.latest, nil
}

func (s *webcamStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.mu.Lock()
		s.latest = nil
		s.width, s.height = 0, 0
		s.mu.Unlock()
		err = s.vc.Close()
	})
	return err
}
