package headtrack

import (
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/viture-view/internal/viture"
)

// Glasses adapts the VITURE HID driver to the Provider interface. The driver
// pushes IMU samples from its reader goroutine; Glasses keeps the latest one
// and serves snapshots to pollers.
type Glasses struct {
	drv *viture.Driver

	mu      sync.Mutex
	pose    Pose
	lastAt  time.Time
	meter   rateMeter
	eventFn func(Event)
}

// NewGlasses builds a provider around the given driver configuration.
func NewGlasses(cfg viture.Config) *Glasses {
	return &Glasses{drv: viture.New(cfg)}
}

func (g *Glasses) Name() string { return "viture" }

// OnEvent registers a callback for unsolicited device events (key presses,
// brightness changes and the like). The callback runs on the driver's reader
// goroutine and must return promptly.
func (g *Glasses) OnEvent(fn func(Event)) {
	g.mu.Lock()
	g.eventFn = fn
	g.mu.Unlock()
}

// Connect opens both HID interfaces and switches the IMU stream on. A
// transport-level failure of the enable command closes the device again; a
// nonzero firmware status is only logged, since some firmware revisions
// answer the enable with a junk status byte while streaming fine.
func (g *Glasses) Connect() error {
	g.drv.OnSample(g.handleSample)
	g.drv.OnEvent(g.handleEvent)
	if err := g.drv.Connect(); err != nil {
		return err
	}
	switch res := g.drv.SetIMU(true); res {
	case viture.ResultNotReady, viture.ResultTimeout, viture.ResultWriteFailed:
		g.drv.Close()
		return fmt.Errorf("headtrack: imu enable failed: %#x", res)
	case 0:
	default:
		log.Printf("[viture] imu enable returned status %d", res)
	}
	log.Printf("[viture] imu streaming on")
	return nil
}

// Close switches the IMU stream off (best effort) and releases the device.
func (g *Glasses) Close() error {
	if res := g.drv.SetIMU(false); res != 0 {
		log.Printf("[viture] imu disable returned %#x", res)
	}
	return g.drv.Close()
}

// Read returns the most recent pose. Valid stays false until the first
// sample; Age and Rate are computed at call time.
func (g *Glasses) Read() (*Pose, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.pose
	if p.Valid {
		p.Age = time.Since(g.lastAt).Seconds()
		p.Rate = g.meter.rate()
	}
	return &p, nil
}

func (g *Glasses) handleSample(payload []byte, deviceTime uint32) {
	o, err := viture.DecodeOrientation(payload)
	if err != nil {
		log.Printf("[viture] bad imu payload: %v", err)
		return
	}
	now := time.Now()
	g.mu.Lock()
	g.pose = Pose{
		Valid:      true,
		Roll:       float64(o.Roll),
		Pitch:      float64(o.Pitch),
		Yaw:        float64(o.Yaw),
		DeviceTime: deviceTime,
	}
	g.lastAt = now
	g.meter.tick(now)
	g.mu.Unlock()
}

func (g *Glasses) handleEvent(cmd uint16, payload []byte, deviceTime uint32) {
	g.mu.Lock()
	fn := g.eventFn
	g.mu.Unlock()
	if fn == nil {
		return
	}
	fn(Event{
		Cmd:        cmd,
		Data:       hex.EncodeToString(payload),
		DeviceTime: deviceTime,
	})
}
