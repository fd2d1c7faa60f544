package viture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Errors callers are expected to branch on. ExecCommand wraps some of them
// with detail; test with errors.Is.
var (
	ErrNotConnected    = errors.New("viture: device not connected")
	ErrWriteFailed     = errors.New("viture: command write failed")
	ErrTimeout         = errors.New("viture: command timed out")
	ErrEmptyResponse   = errors.New("viture: empty response payload")
	ErrPayloadTooLarge = errors.New("viture: command payload too large")
	ErrClosed          = errors.New("viture: driver closed")
)

// Result codes returned by Exec and SetIMU in place of a device status byte
// when the exchange itself failed. All sit far above the one-byte status
// range, so a caller can always tell them apart from firmware statuses.
const (
	ResultNotReady    uint32 = 0xFFFFFFFD
	ResultTimeout     uint32 = 0xFFFFFFFE
	ResultWriteFailed uint32 = 0xFFFFFFFF
)

const (
	defaultVendorID         = 0x35CA
	defaultControlInterface = 1
	defaultSensorInterface  = 0
	defaultCommandTimeout   = 2 * time.Second
	defaultReadTimeout      = 1 * time.Second

	cmdSetIMU uint16 = 0x15
)

// Config controls device discovery and exchange timing. The zero value is
// not useful; start from DefaultConfig.
type Config struct {
	VendorID         uint16
	ControlInterface int // USB interface carrying MCU commands and events
	SensorInterface  int // USB interface streaming IMU reports

	CommandTimeout time.Duration // bound on waiting for a command reply
	ReadTimeout    time.Duration // per-iteration blocking read bound; also the worst-case shutdown join latency

	// StrictChecksum drops inbound frames whose CRC does not match instead
	// of delivering them flagged. The firmware occasionally emits frames
	// that fail the check yet carry plausible content, so the default is
	// to deliver.
	StrictChecksum bool

	// Open overrides device resolution, mainly for tests. Nil means HID
	// enumeration by vendor id and interface number.
	Open OpenFunc
}

// DefaultConfig matches the Pro's USB layout: the MCU command endpoint on
// interface 1 and the IMU stream on interface 0.
func DefaultConfig() Config {
	return Config{
		VendorID:         defaultVendorID,
		ControlInterface: defaultControlInterface,
		SensorInterface:  defaultSensorInterface,
		CommandTimeout:   defaultCommandTimeout,
		ReadTimeout:      defaultReadTimeout,
	}
}

// EventFunc receives asynchronous MCU events from the control channel:
// key presses, brightness and 3D-mode changes, and anything else the
// firmware pushes without being asked.
type EventFunc func(cmd uint16, payload []byte, timestamp uint32)

// SampleFunc receives raw IMU payloads from the sensor channel. Decode with
// DecodeOrientation.
type SampleFunc func(payload []byte, timestamp uint32)

// Driver owns both HID interfaces of one set of glasses: a control channel
// for command/response exchanges and pushed events, and a sensor channel
// streaming IMU reports. One reader goroutine per channel classifies and
// dispatches inbound frames; ExecCommand serializes outbound commands so at
// most one exchange is ever in flight.
type Driver struct {
	cfg Config

	mu        sync.Mutex // lifecycle state below
	connected bool
	control   *channel
	sensor    *channel
	closing   chan struct{} // closed by Close to fail an in-flight exchange

	cmdMu  sync.Mutex  // serializes command exchanges
	respMu sync.Mutex  // guards respCh
	respCh chan []byte // pending reply slot; nil when nobody is waiting

	cbMu     sync.RWMutex
	onEvent  EventFunc
	onSample SampleFunc
}

// channel is one HID interface plus its reader goroutine's control state.
type channel struct {
	name    string
	magic   [2]byte
	tr      Transport
	stop    atomic.Bool   // reader exits at the next iteration boundary
	started chan struct{} // closed by the reader before its first read
	done    chan struct{} // closed when the reader has exited
}

func newChannel(name string, magic [2]byte, tr Transport) *channel {
	return &channel{
		name:    name,
		magic:   magic,
		tr:      tr,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// shutdown stops the reader, waits for it to exit, and only then closes the
// transport. Closing first would hand the reader a freed handle.
func (ch *channel) shutdown() {
	ch.stop.Store(true)
	<-ch.done
	ch.tr.Close()
}

// New creates a driver. Timeouts and vendor id fall back to defaults when
// zero; interface numbers are taken as given. Call Connect before use.
func New(cfg Config) *Driver {
	if cfg.VendorID == 0 {
		cfg.VendorID = defaultVendorID
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	return &Driver{cfg: cfg}
}

// Connect resolves and opens both HID interfaces, then starts the two reader
// goroutines. It does not return until both readers are running, so a
// successful Connect means events and samples can already be delivered.
// On any failure everything opened so far is closed again.
func (d *Driver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return nil
	}

	crcOnce.Do(initCRCTable)

	open := d.cfg.Open
	if open == nil {
		open = openHID
	}
	controlTr, err := open(d.cfg.VendorID, d.cfg.ControlInterface)
	if err != nil {
		return fmt.Errorf("viture: control interface: %w", err)
	}
	sensorTr, err := open(d.cfg.VendorID, d.cfg.SensorInterface)
	if err != nil {
		controlTr.Close()
		return fmt.Errorf("viture: sensor interface: %w", err)
	}

	d.closing = make(chan struct{})
	d.control = newChannel("control", magicControl, controlTr)
	d.sensor = newChannel("sensor", magicSensor, sensorTr)

	go d.readLoop(d.control, d.handleControl)
	<-d.control.started
	go d.readLoop(d.sensor, d.handleSensor)
	<-d.sensor.started

	d.connected = true
	log.Printf("[viture] connected (vendor 0x%04X, control if%d, sensor if%d)",
		d.cfg.VendorID, d.cfg.ControlInterface, d.cfg.SensorInterface)
	return nil
}

// Close fails any in-flight command, stops and joins both readers, then
// closes the transports. Safe to call more than once; Connect may be called
// again afterwards.
func (d *Driver) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.connected = false
	control, sensor := d.control, d.sensor
	d.control, d.sensor = nil, nil
	closing := d.closing
	d.mu.Unlock()

	close(closing)
	control.shutdown()
	sensor.shutdown()
	log.Printf("[viture] closed")
	return nil
}

// OnEvent registers the control-channel event callback. The last
// registration wins; register before Connect to avoid missing early events.
// The callback runs on the channel's reader goroutine, so it must return
// promptly and must not issue commands itself.
func (d *Driver) OnEvent(fn EventFunc) {
	d.cbMu.Lock()
	d.onEvent = fn
	d.cbMu.Unlock()
}

// OnSample registers the sensor-channel callback. Same delivery rules as
// OnEvent: last registration wins, runs on the reader goroutine.
func (d *Driver) OnSample(fn SampleFunc) {
	d.cbMu.Lock()
	d.onSample = fn
	d.cbMu.Unlock()
}

// readLoop is the body shared by both reader goroutines: announce startup,
// then read with a bounded timeout so the stop flag is polled at least once
// per ReadTimeout. A transport error marks the channel dead and exits; a
// pending command is then left to time out on its own.
func (d *Driver) readLoop(ch *channel, handle func([]byte)) {
	close(ch.started)
	defer close(ch.done)
	buf := make([]byte, frameSize)
	for !ch.stop.Load() {
		n, err := ch.tr.ReadWithTimeout(buf, d.cfg.ReadTimeout)
		if err != nil {
			if !ch.stop.Load() {
				log.Printf("[viture] %s channel: read failed, stopping: %v", ch.name, err)
			}
			ch.stop.Store(true)
			return
		}
		if n == 0 {
			continue
		}
		if n < payloadOffset || buf[0] != ch.magic[0] || buf[1] != ch.magic[1] {
			log.Printf("[viture] %s channel: dropping malformed %d-byte report % X...", ch.name, n, buf[:2])
			continue
		}
		handle(buf[:n])
	}
}

// isResponse reports whether a control frame is the synchronous reply to a
// pending command. The firmware zeroes the command id on replies; with no
// sequence numbers on the wire, that id is the only correlation signal.
func isResponse(raw []byte) bool {
	return binary.LittleEndian.Uint16(raw[14:16]) == 0
}

// handleControl classifies control-channel frames: replies go verbatim to
// the waiting ExecCommand, everything else is parsed and delivered as an
// event. A reply with nobody waiting (it arrived after the exchange timed
// out) is dropped.
func (d *Driver) handleControl(raw []byte) {
	if isResponse(raw) {
		d.respMu.Lock()
		ch := d.respCh
		d.respCh = nil
		d.respMu.Unlock()
		if ch == nil {
			log.Printf("[viture] control channel: dropping late response frame")
			return
		}
		cp := make([]byte, frameSize)
		copy(cp, raw)
		ch <- cp
		return
	}

	f, err := parseFrame(raw)
	if err != nil {
		log.Printf("[viture] control channel: %v", err)
		return
	}
	if !f.crcOK {
		log.Printf("[viture] control channel: checksum mismatch on event 0x%04X", f.cmd)
		if d.cfg.StrictChecksum {
			return
		}
	}
	d.cbMu.RLock()
	fn := d.onEvent
	d.cbMu.RUnlock()
	if fn != nil {
		fn(f.cmd, f.payload, f.timestamp)
	}
}

// handleSensor parses every sensor frame and hands it to the sample
// callback; the sensor channel carries no command traffic.
func (d *Driver) handleSensor(raw []byte) {
	f, err := parseFrame(raw)
	if err != nil {
		log.Printf("[viture] sensor channel: %v", err)
		return
	}
	if !f.crcOK {
		log.Printf("[viture] sensor channel: checksum mismatch")
		if d.cfg.StrictChecksum {
			return
		}
	}
	d.cbMu.RLock()
	fn := d.onSample
	d.cbMu.RUnlock()
	if fn != nil {
		fn(f.payload, f.timestamp)
	}
}

// ExecCommand sends one command and waits for the firmware's reply. At most
// one exchange is in flight at a time; concurrent callers queue on the
// command mutex. The reply's first payload byte is the device status, the
// rest is the body. A reply that arrives after the timeout no longer has a
// waiter and is dropped by the reader.
func (d *Driver) ExecCommand(cmd uint16, payload []byte) (status byte, body []byte, err error) {
	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return 0, nil, ErrNotConnected
	}
	tr := d.control.tr
	closing := d.closing
	d.mu.Unlock()

	out, err := buildFrame(cmd, payload)
	if err != nil {
		return 0, nil, err
	}

	ch := make(chan []byte, 1)
	d.respMu.Lock()
	d.respCh = ch
	d.respMu.Unlock()

	if _, err := tr.Write(out[:]); err != nil {
		d.clearPending()
		return 0, nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	timer := time.NewTimer(d.cfg.CommandTimeout)
	defer timer.Stop()

	var raw []byte
	select {
	case raw = <-ch:
	case <-timer.C:
		d.clearPending()
		return 0, nil, ErrTimeout
	case <-closing:
		d.clearPending()
		return 0, nil, ErrClosed
	}

	f, err := parseFrame(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("viture: bad response frame: %w", err)
	}
	if !f.crcOK {
		log.Printf("[viture] response to 0x%04X has checksum mismatch", cmd)
		if d.cfg.StrictChecksum {
			return 0, nil, fmt.Errorf("viture: response checksum mismatch")
		}
	}
	if len(f.payload) == 0 {
		return 0, nil, ErrEmptyResponse
	}
	return f.payload[0], f.payload[1:], nil
}

func (d *Driver) clearPending() {
	d.respMu.Lock()
	d.respCh = nil
	d.respMu.Unlock()
}

// Exec issues a one-byte command and reduces the outcome to a status word in
// the firmware SDK's calling convention: the device status byte on success,
// or one of the Result sentinels.
func (d *Driver) Exec(cmd uint16, arg byte) uint32 {
	status, _, err := d.ExecCommand(cmd, []byte{arg})
	switch {
	case err == nil:
		return uint32(status)
	case errors.Is(err, ErrNotConnected):
		return ResultNotReady
	case errors.Is(err, ErrWriteFailed):
		return ResultWriteFailed
	default:
		return ResultTimeout
	}
}

// SetIMU starts or stops the orientation stream. Returns the device status
// byte (0 on success) or a Result sentinel.
func (d *Driver) SetIMU(enable bool) uint32 {
	arg := byte(0)
	if enable {
		arg = 1
	}
	return d.Exec(cmdSetIMU, arg)
}
