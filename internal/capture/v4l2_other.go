//go:build !linux

package capture

import "fmt"

// V4L2Source needs Video4Linux2; on other platforms Connect always fails.
type V4L2Source struct {
	devicePath string
}

func NewV4L2(cfg V4L2Config) *V4L2Source {
	return &V4L2Source{devicePath: cfg.DevicePath}
}

func (s *V4L2Source) Name() string { return "V4L2 Camera" }

func (s *V4L2Source) Connect() error {
	return fmt.Errorf("capture: V4L2 capture requires linux")
}

func (s *V4L2Source) Close() error { return nil }

func (s *V4L2Source) Read() (*Frame, error) {
	return nil, fmt.Errorf("capture: not connected")
}
