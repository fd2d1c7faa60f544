package headtrack

import (
	"math"
	"math/rand"
	"sync"
)

// DemoTracker generates simulated head motion for development without
// hardware: a slow look-around on yaw, a nod on pitch, a slight tilt on roll.
type DemoTracker struct {
	mu sync.Mutex
	t  float64
}

func NewDemo() *DemoTracker { return &DemoTracker{} }

func (d *DemoTracker) Name() string   { return "Demo (Simulated)" }
func (d *DemoTracker) Connect() error { return nil }
func (d *DemoTracker) Close() error   { return nil }

func (d *DemoTracker) Read() (*Pose, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.05

	return &Pose{
		Valid:      true,
		Roll:       8*math.Sin(d.t*0.7) + rand.Float64()*0.2,
		Pitch:      15*math.Sin(d.t*0.5) + rand.Float64()*0.2,
		Yaw:        45*math.Sin(d.t*0.3) + rand.Float64()*0.2,
		DeviceTime: uint32(d.t * 1000),
		Age:        0,
		Rate:       60,
	}, nil
}
