// Package thermal reads the barrier interface temperature probes and applies
// the watchdog and sensor-fault rules.
package thermal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Probe names. All five are always present in limits and status.
const (
	ProbeLocTop      = "Loc Top Temp"
	ProbeLocBottom   = "Loc Bottom Temp"
	ProbeInverter1   = "Inverter 1 Temp"
	ProbeInverter2   = "Inverter 2 Temp"
	ProbeLocExternal = "Loc External Temp"
)

// ProbeNames lists the probes in display order.
var ProbeNames = []string{ProbeLocTop, ProbeLocBottom, ProbeInverter1, ProbeInverter2, ProbeLocExternal}

// DefaultW1Dir is where the Linux w1 bus exposes DS18B20 devices.
const DefaultW1Dir = "/sys/bus/w1/devices"

// ErrCRC is returned when a DS18B20 frame fails its checksum.
var ErrCRC = errors.New("ds18b20 crc check failed")

// ErrNoDeviceID is returned by a W1Probe with no configured device id.
var ErrNoDeviceID = errors.New("no 1-wire device id configured")

// Probe is a single temperature sensor.
type Probe interface {
	Name() string
	Read() (float64, error)
}

// W1Probe reads a DS18B20 through the 1-wire sysfs interface.
type W1Probe struct {
	name string
	id   string
	dir  string
}

// NewW1Probe returns a probe reading <dir>/<id>/w1_slave.
func NewW1Probe(name, id, dir string) *W1Probe {
	if dir == "" {
		dir = DefaultW1Dir
	}
	return &W1Probe{name: name, id: id, dir: dir}
}

func (p *W1Probe) Name() string { return p.name }

// Read returns the temperature in degrees C.
func (p *W1Probe) Read() (float64, error) {
	if p.id == "" {
		return 0, ErrNoDeviceID
	}
	f, err := os.Open(filepath.Join(p.dir, p.id, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("open probe %s: %w", p.id, err)
	}
	defer f.Close()
	return parseW1Slave(f)
}

// parseW1Slave decodes the two-line w1_slave format:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func parseW1Slave(r io.Reader) (float64, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return 0, fmt.Errorf("read probe: empty frame")
	}
	if !strings.HasSuffix(strings.TrimSpace(sc.Text()), "YES") {
		return 0, ErrCRC
	}
	if !sc.Scan() {
		return 0, fmt.Errorf("read probe: missing temperature line")
	}
	line := sc.Text()
	i := strings.LastIndex(line, "t=")
	if i < 0 {
		return 0, fmt.Errorf("read probe: no t= field in %q", line)
	}
	milli, err := strconv.Atoi(strings.TrimSpace(line[i+2:]))
	if err != nil {
		return 0, fmt.Errorf("read probe: parse temperature: %w", err)
	}
	return float64(milli) / 1000, nil
}

// SimProbe produces a bounded random walk. It can be taken offline or
// pinned to a value. Safe for concurrent use.
type SimProbe struct {
	mu      sync.Mutex
	name    string
	value   float64
	min     float64
	max     float64
	step    float64
	fixed   *float64
	offline bool
	rng     *rand.Rand
}

// NewSimProbe starts a walk at start within [start-10, start+10].
func NewSimProbe(name string, start float64, seed int64) *SimProbe {
	return &SimProbe{
		name:  name,
		value: start,
		min:   start - 10,
		max:   start + 10,
		step:  0.5,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (p *SimProbe) Name() string { return p.name }

// Read advances the walk by one step.
func (p *SimProbe) Read() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.offline {
		return 0, fmt.Errorf("probe %s not responding", p.name)
	}
	if p.fixed != nil {
		return *p.fixed, nil
	}
	p.value += (p.rng.Float64()*2 - 1) * p.step
	if p.value < p.min {
		p.value = p.min
	}
	if p.value > p.max {
		p.value = p.max
	}
	return p.value, nil
}

// SetOffline makes Read fail until cleared.
func (p *SimProbe) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
}

// SetValue pins the reading to v.
func (p *SimProbe) SetValue(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixed = &v
}

// ClearValue resumes the random walk.
func (p *SimProbe) ClearValue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixed = nil
}

// SimProbes returns one simulated probe per name at room temperature.
func SimProbes(seed int64) []*SimProbe {
	probes := make([]*SimProbe, len(ProbeNames))
	for i, name := range ProbeNames {
		probes[i] = NewSimProbe(name, 22+float64(i), seed+int64(i))
	}
	return probes
}
