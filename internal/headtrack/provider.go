// Package headtrack abstracts head orientation sources behind a common
// provider interface. The real source is a pair of VITURE XR glasses on USB;
// a serial tracker and a demo simulator cover bench setups without hardware.
package headtrack

import "time"

// Provider is the contract every pose source implements.
type Provider interface {
	// Name returns a short identifier for logs and the dashboard
	Name() string
	// Connect establishes the connection to the tracker
	Connect() error
	// Close shuts down the tracker connection
	Close() error
	// Read returns the latest pose snapshot
	Read() (*Pose, error)
}

// Pose is one orientation snapshot, Euler angles in degrees.
type Pose struct {
	Valid      bool    `json:"valid"`       // false until the first sample lands
	Roll       float64 `json:"roll"`        // degrees
	Pitch      float64 `json:"pitch"`       // degrees
	Yaw        float64 `json:"yaw"`         // degrees
	DeviceTime uint32  `json:"device_time"` // tracker-side timestamp of the sample
	Age        float64 `json:"age"`         // seconds since the sample arrived
	Rate       float64 `json:"rate"`        // samples per second over the recent window
}

// Event is an unsolicited notification pushed by the tracker hardware, such
// as a key press or a mode change on the glasses.
type Event struct {
	Cmd        uint16 `json:"cmd"`            // message id from the device
	Data       string `json:"data,omitempty"` // payload bytes, hex encoded
	DeviceTime uint32 `json:"device_time"`
}

// rateWindow bounds how many arrival stamps feed the rate estimate.
const rateWindow = 64

// rateMeter estimates sample arrival rate over a sliding window of stamps.
// Not safe for concurrent use; callers hold their own lock.
type rateMeter struct {
	stamps []time.Time
}

func (m *rateMeter) tick(now time.Time) {
	m.stamps = append(m.stamps, now)
	if len(m.stamps) > rateWindow {
		m.stamps = m.stamps[len(m.stamps)-rateWindow:]
	}
}

func (m *rateMeter) rate() float64 {
	if len(m.stamps) < 2 {
		return 0
	}
	span := m.stamps[len(m.stamps)-1].Sub(m.stamps[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(m.stamps)-1) / span
}
