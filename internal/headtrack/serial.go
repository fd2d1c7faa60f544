package headtrack

import (
	"bufio"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialTracker reads pose sentences from an external IMU bridge on a UART,
// for rigs where the glasses are driven by another host. The wire format
// borrows NMEA 0183 framing:
//
//	$HTEUL,<roll>,<pitch>,<yaw>[,<millis>]*hh
//
// with angles in decimal degrees and hh the XOR checksum of the characters
// between $ and *.
type SerialTracker struct {
	portPath string
	baudRate int
	port     serial.Port
	scanner  *bufio.Scanner

	mu     sync.Mutex
	last   Pose
	lastAt time.Time
	meter  rateMeter
}

// SerialConfig holds configuration for the serial tracker provider.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewSerial creates a serial tracker provider.
func NewSerial(cfg SerialConfig) *SerialTracker {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &SerialTracker{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
	}
}

func (t *SerialTracker) Name() string { return "serial tracker" }

func (t *SerialTracker) Connect() error {
	mode := &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(t.portPath, mode)
	if err != nil {
		return fmt.Errorf("headtrack: failed to open %s: %w", t.portPath, err)
	}
	port.SetReadTimeout(200 * time.Millisecond)
	t.port = port
	t.scanner = bufio.NewScanner(port)
	log.Printf("[serial] connected to %s at %d baud", t.portPath, t.baudRate)
	return nil
}

func (t *SerialTracker) Close() error {
	if t.port != nil {
		return t.port.Close()
	}
	return nil
}

// Read drains buffered sentences, up to a bounded batch, and returns the
// newest pose seen. Trackers stream faster than the dashboard polls, so the
// batch keeps the snapshot from lagging behind the wire.
func (t *SerialTracker) Read() (*Pose, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.scanner == nil {
		p := t.last
		return &p, fmt.Errorf("headtrack: not connected")
	}

	for i := 0; i < 32; i++ {
		if !t.scanner.Scan() {
			if t.scanner.Err() != nil {
				// Scanner errors are sticky, so rebuild before the
				// next poll.
				t.scanner = bufio.NewScanner(t.port)
			}
			break
		}
		line := strings.TrimSpace(t.scanner.Text())
		if !strings.HasPrefix(line, "$HTEUL") {
			continue
		}
		if !validateChecksum(line) {
			continue
		}
		t.parseEuler(line)
	}

	p := t.last
	if p.Valid {
		p.Age = time.Since(t.lastAt).Seconds()
		p.Rate = t.meter.rate()
	}
	return &p, nil
}

func (t *SerialTracker) parseEuler(line string) {
	// $HTEUL,roll,pitch,yaw[,millis]*hh
	parts := splitSentence(line)
	if len(parts) < 4 {
		return
	}
	roll, err1 := strconv.ParseFloat(parts[1], 64)
	pitch, err2 := strconv.ParseFloat(parts[2], 64)
	yaw, err3 := strconv.ParseFloat(parts[3], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	p := Pose{Valid: true, Roll: roll, Pitch: pitch, Yaw: yaw}
	if len(parts) >= 5 {
		if ms, err := strconv.ParseUint(parts[4], 10, 32); err == nil {
			p.DeviceTime = uint32(ms)
		}
	}
	now := time.Now()
	t.last = p
	t.lastAt = now
	t.meter.tick(now)
}

// splitSentence splits a sentence and strips the $ prefix and checksum suffix.
func splitSentence(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// validateChecksum checks the XOR checksum after *.
func validateChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx]
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return calc == byte(expected)
}
