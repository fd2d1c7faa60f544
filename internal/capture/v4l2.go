//go:build linux

package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const defaultBufferCount = 4

// V4L2Source streams frames from a Video4Linux2 capture device through
// memory-mapped buffers, no cgo involved. The device is opened non-blocking;
// Read returns (nil, nil) until the driver has a frame ready.
//
// The passthrough camera of the glasses delivers NV24; plain webcams usually
// negotiate YUYV instead, and both are accepted.
type V4L2Source struct {
	devicePath string

	mu        sync.Mutex
	fd        int
	width     int
	height    int
	pixfmt    uint32
	bufs      [][]byte
	rgb       []byte
	streaming bool
}

// NewV4L2 creates a camera source. Zero config fields fall back to
// /dev/video0 at 1920x1080.
func NewV4L2(cfg V4L2Config) *V4L2Source {
	if cfg.DevicePath == "" {
		cfg.DevicePath = "/dev/video0"
	}
	if cfg.Width <= 0 {
		cfg.Width = 1920
	}
	if cfg.Height <= 0 {
		cfg.Height = 1080
	}
	return &V4L2Source{
		devicePath: cfg.DevicePath,
		fd:         -1,
		width:      cfg.Width,
		height:     cfg.Height,
	}
}

func (s *V4L2Source) Name() string { return "V4L2 Camera" }

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return errno
	}
}

// Connect opens the device, negotiates the pixel format, maps the driver's
// buffer ring and starts streaming.
func (s *V4L2Source) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd >= 0 {
		return nil
	}

	fd, err := unix.Open(s.devicePath, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("capture: open %s: %w", s.devicePath, err)
	}

	if err := s.setup(fd); err != nil {
		unix.Close(fd)
		return err
	}
	s.fd = fd
	s.rgb = make([]byte, s.width*s.height*3)
	log.Printf("[capture] %s streaming %dx%d %s over %d buffers",
		s.devicePath, s.width, s.height, fourccString(s.pixfmt), len(s.bufs))
	return nil
}

// setup runs the ioctl sequence against fd. On error any buffers mapped so
// far are unmapped; the caller still owns fd.
func (s *V4L2Source) setup(fd int) error {
	var caps v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&caps)); err != nil {
		return fmt.Errorf("capture: VIDIOC_QUERYCAP: %w", err)
	}
	if caps.capabilities&capVideoCapture == 0 {
		return fmt.Errorf("capture: %s does not support video capture", s.devicePath)
	}
	if caps.capabilities&capStreaming == 0 {
		return fmt.Errorf("capture: %s does not support streaming", s.devicePath)
	}

	var format v4l2Format
	format.typ = bufTypeVideoCapture
	pix := format.pix()
	pix.width = uint32(s.width)
	pix.height = uint32(s.height)
	pix.pixelformat = pixFmtNV24
	pix.field = fieldNone
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		return fmt.Errorf("capture: VIDIOC_S_FMT %dx%d: %w", s.width, s.height, err)
	}
	// The driver reports back what it actually granted.
	switch pix.pixelformat {
	case pixFmtNV24, pixFmtYUYV:
		s.pixfmt = pix.pixelformat
	default:
		return fmt.Errorf("capture: %s granted unsupported format %s", s.devicePath, fourccString(pix.pixelformat))
	}
	if int(pix.width) != s.width || int(pix.height) != s.height {
		log.Printf("[capture] %s adjusted resolution to %dx%d", s.devicePath, pix.width, pix.height)
		s.width = int(pix.width)
		s.height = int(pix.height)
	}

	var req v4l2Requestbuffers
	req.count = defaultBufferCount
	req.typ = bufTypeVideoCapture
	req.memory = memoryMmap
	if err := ioctl(fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("capture: VIDIOC_REQBUFS: %w", err)
	}
	if req.count == 0 {
		return fmt.Errorf("capture: %s granted no mmap buffers", s.devicePath)
	}

	s.bufs = nil
	for i := uint32(0); i < req.count; i++ {
		var buf v4l2Buffer
		buf.typ = bufTypeVideoCapture
		buf.memory = memoryMmap
		buf.index = i
		if err := ioctl(fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
			s.unmapAll()
			return fmt.Errorf("capture: VIDIOC_QUERYBUF %d: %w", i, err)
		}
		data, err := unix.Mmap(fd, int64(uint32(buf.m)), int(buf.length),
			unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			s.unmapAll()
			return fmt.Errorf("capture: mmap buffer %d: %w", i, err)
		}
		s.bufs = append(s.bufs, data)
	}

	for i := uint32(0); i < req.count; i++ {
		var buf v4l2Buffer
		buf.typ = bufTypeVideoCapture
		buf.memory = memoryMmap
		buf.index = i
		if err := ioctl(fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
			s.unmapAll()
			return fmt.Errorf("capture: VIDIOC_QBUF %d: %w", i, err)
		}
	}

	typ := uint32(bufTypeVideoCapture)
	if err := ioctl(fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		s.unmapAll()
		return fmt.Errorf("capture: VIDIOC_STREAMON: %w", err)
	}
	s.streaming = true
	return nil
}

// Read dequeues the next frame if one is ready, converts it to RGB and hands
// the buffer straight back to the driver.
func (s *V4L2Source) Read() (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil, fmt.Errorf("capture: not connected")
	}

	var buf v4l2Buffer
	buf.typ = bufTypeVideoCapture
	buf.memory = memoryMmap
	if err := ioctl(s.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, nil
		}
		return nil, fmt.Errorf("capture: VIDIOC_DQBUF: %w", err)
	}
	if int(buf.index) >= len(s.bufs) {
		return nil, fmt.Errorf("capture: VIDIOC_DQBUF returned bogus buffer index %d", buf.index)
	}

	data := s.bufs[buf.index]
	if s.pixfmt == pixFmtYUYV {
		n := int(buf.bytesused)
		if n > len(data) {
			n = len(data)
		}
		YUYVToRGB(s.rgb, data[:n], s.width, s.height)
	} else {
		luma := s.width * s.height
		var y, uv []byte
		if len(data) >= luma {
			y, uv = data[:luma], data[luma:]
		}
		NV24ToRGB(s.rgb, y, uv, s.width, s.height)
	}

	if err := ioctl(s.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("capture: VIDIOC_QBUF %d: %w", buf.index, err)
	}
	return &Frame{Width: s.width, Height: s.height, RGB: s.rgb, Stamp: time.Now()}, nil
}

// Close stops streaming, unmaps the buffer ring and closes the device.
func (s *V4L2Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	if s.streaming {
		typ := uint32(bufTypeVideoCapture)
		if err := ioctl(s.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
			log.Printf("[capture] VIDIOC_STREAMOFF: %v", err)
		}
		s.streaming = false
	}
	s.unmapAll()
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func (s *V4L2Source) unmapAll() {
	for _, b := range s.bufs {
		if err := unix.Munmap(b); err != nil {
			log.Printf("[capture] munmap: %v", err)
		}
	}
	s.bufs = nil
}

// fourccString renders a pixel format code the way V4L2 tools print them.
func fourccString(f uint32) string {
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7E {
			b[i] = '?'
		}
	}
	return string(b)
}
