package loadgen

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TelemetryReading is the synthetic document published per tick.
type TelemetryReading struct {
	DeviceID  string    `json:"device_id"`
	Seq       uint64    `json:"seq"`
	Temp      float64   `json:"temp"`
	Humidity  float64   `json:"humidity"`
	Timestamp time.Time `json:"timestamp"`
}

// TelemetryGenerator produces TelemetryReading JSON with a per-device
// sequence number and readings that drift around a base value.
type TelemetryGenerator struct {
	BaseTemp     float64
	BaseHumidity float64
	Now          func() time.Time

	mu  sync.Mutex
	seq map[string]uint64
}

// NewTelemetryGenerator returns a generator around 21C and 45% humidity.
func NewTelemetryGenerator() *TelemetryGenerator {
	return &TelemetryGenerator{
		BaseTemp:     21,
		BaseHumidity: 45,
		Now:          time.Now,
		seq:          make(map[string]uint64),
	}
}

// GeneratePayload implements PayloadGenerator.
func (g *TelemetryGenerator) GeneratePayload(device *Device) ([]byte, error) {
	g.mu.Lock()
	g.seq[device.ID]++
	seq := g.seq[device.ID]
	g.mu.Unlock()

	return json.Marshal(TelemetryReading{
		DeviceID:  device.ID,
		Seq:       seq,
		Temp:      g.BaseTemp + rand.Float64()*4 - 2,
		Humidity:  g.BaseHumidity + rand.Float64()*10 - 5,
		Timestamp: g.Now().UTC(),
	})
}

// NewDevices creates n devices with random IDs sharing one generator.
func NewDevices(n int, rate float64, gen PayloadGenerator) []*Device {
	devices := make([]*Device, 0, n)
	for i := 0; i < n; i++ {
		devices = append(devices, &Device{
			ID:               "device-" + uuid.NewString()[:8],
			MessageRate:      rate,
			PayloadGenerator: gen,
		})
	}
	return devices
}
