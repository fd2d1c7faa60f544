package capture

import (
	"fmt"
	"sync"
	"time"
)

// Frame is one captured image as tightly packed 8-bit RGB. RGB aliases a
// buffer the source reuses on its next Read, so consumers encode or copy
// before polling again.
type Frame struct {
	Width  int
	Height int
	RGB    []byte
	Stamp  time.Time
}

// V4L2Config holds configuration for the camera source.
type V4L2Config struct {
	DevicePath string `yaml:"device_path" json:"devicePath"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
}

// Source is the contract camera backends implement.
type Source interface {
	// Name returns a short identifier for logs and the dashboard
	Name() string
	// Connect opens the device and starts streaming
	Connect() error
	// Close stops streaming and releases the device
	Close() error
	// Read returns the next frame, or (nil, nil) when none is ready yet
	Read() (*Frame, error)
}

// PatternSource serves the synthetic diagnostic gradient at a fixed rate,
// for running the dashboard with no camera attached.
type PatternSource struct {
	width    int
	height   int
	interval time.Duration

	mu   sync.Mutex
	rgb  []byte
	next time.Time
}

// NewPattern creates a pattern source. Zero dimensions fall back to 640x360.
func NewPattern(width, height int) *PatternSource {
	if width <= 0 {
		width = 640
	}
	if height <= 0 {
		height = 360
	}
	return &PatternSource{
		width:    width,
		height:   height,
		interval: time.Second / 30,
	}
}

func (p *PatternSource) Name() string { return "Test Pattern" }

func (p *PatternSource) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rgb = make([]byte, p.width*p.height*3)
	FillPattern(p.rgb, p.width, p.height)
	p.next = time.Now()
	return nil
}

func (p *PatternSource) Close() error {
	p.mu.Lock()
	p.rgb = nil
	p.mu.Unlock()
	return nil
}

func (p *PatternSource) Read() (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rgb == nil {
		return nil, fmt.Errorf("capture: not connected")
	}
	now := time.Now()
	if now.Before(p.next) {
		return nil, nil
	}
	p.next = now.Add(p.interval)
	return &Frame{Width: p.width, Height: p.height, RGB: p.rgb, Stamp: now}, nil
}
