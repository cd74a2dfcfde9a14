package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// Mock implements Device for testing. Streams it opens report zero
// dimensions for the first ReadyAfter polls, then Width x Height.
type Mock struct {
	Width      int
	Height     int
	ReadyAfter int
	OpenErr    error
	OpenDelay  time.Duration
	Frame      []byte

	mu      sync.Mutex
	streams []*MockStream
}

// NewMock creates a mock device producing a solid-gray JPEG of the given size.
func NewMock(width, height int) *Mock {
	return &Mock{
		Width:  width,
		Height: height,
		Frame:  grayJPEG(width, height),
	}
}

// Open returns a new MockStream, or OpenErr.
func (m *Mock) Open(ctx context.Context, c Constraints) (Stream, error) {
	if m.OpenDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.OpenDelay):
		}
	}
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s := &MockStream{device: m, constraints: c}
	m.streams = append(m.streams, s)
	return s, nil
}

// Streams returns every stream opened so far.
func (m *Mock) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// Opens returns how many streams were opened.
func (m *Mock) Opens() int {
	return len(m.Streams())
}

// Closes returns the total number of Close calls across all streams.
func (m *Mock) Closes() int {
	n := 0
	for _, s := range m.Streams() {
		n += s.CloseCalls()
	}
	return n
}

// MockStream is a stream opened by Mock.
type MockStream struct {
	device      *Mock
	constraints Constraints

	mu         sync.Mutex
	polls      int
	closeCalls int
	closed     bool
	revoked    bool
	snapshots  int
}

// Dimensions reports zero until ReadyAfter polls have happened.
func (s *MockStream) Dimensions() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.revoked {
		return 0, 0
	}
	s.polls++
	if s.polls <= s.device.ReadyAfter {
		return 0, 0
	}
	return s.device.Width, s.device.Height
}

// Snapshot returns the device frame.
func (s *MockStream) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.revoked {
		return nil, ErrNotReady
	}
	s.snapshots++
	return s.device.Frame, nil
}

// Close marks the stream closed and counts the call.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	s.closed = true
	return nil
}

// Revoke simulates the device being taken away mid-session.
func (s *MockStream) Revoke() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = true
}

// CloseCalls returns how many times Close was called.
func (s *MockStream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Snapshots returns how many frames were taken.
func (s *MockStream) Snapshots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}

// Constraints returns the constraints the stream was opened with.
func (s *MockStream) Constraints() Constraints {
	return s.constraints
}

func grayJPEG(width, height int) []byte {
	if width <= 0 || height <= 0 {
		return nil
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = color.Gray{Y: 128}.Y
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil
	}
	return buf.Bytes()
}
