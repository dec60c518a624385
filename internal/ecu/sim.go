package ecu

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ecuworks/diagdash/internal/tooth"
)

// Simulator ramp behavior.
const (
	idleRPM     = 800
	maxRPM      = 10000
	rampStepRPM = 50                     // RPM change per update tick
	rampTick    = 100 * time.Millisecond // update interval
)

// Sim generates simulated ECU behavior for development and bench testing.
// The engine idles at 800 RPM and ramps toward the target set via
// SetTargetRPM; all other channels are derived from the current RPM with a
// little noise so gauges look alive.
type Sim struct {
	mu        sync.Mutex
	connected bool

	currentRPM float64
	targetRPM  float64
	coolant    float64
	fuelLevel  float64
	lastTick   time.Time

	sensors SensorConfig

	stored  []DTC
	pending []DTC
}

// NewSim returns a simulator with the default 60-2 crank wheel and an
// asymmetric 12-tooth cam pattern.
func NewSim() *Sim {
	crank, err := tooth.NewCrankConfig(6, 2)
	if err != nil {
		panic(err) // static config
	}
	cam, err := tooth.CamPattern([]tooth.Bit{1, 1, 1, 1, 1, 1, 0, 1, 1, 1, 1, 1})
	if err != nil {
		panic(err)
	}
	return &Sim{
		currentRPM: idleRPM,
		targetRPM:  idleRPM,
		coolant:    85,
		fuelLevel:  75,
		sensors:    SensorConfig{Crank: crank, Cam: cam},
	}
}

func (s *Sim) Name() string { return "Simulator" }

func (s *Sim) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.lastTick = time.Now()
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.currentRPM = idleRPM
	s.targetRPM = idleRPM
	return nil
}

func (s *Sim) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// SetTargetRPM sets the ramp target, clamped to [0, 10000].
func (s *Sim) SetTargetRPM(rpm int) {
	if rpm < 0 {
		rpm = 0
	}
	if rpm > maxRPM {
		rpm = maxRPM
	}
	s.mu.Lock()
	s.targetRPM = float64(rpm)
	s.mu.Unlock()
}

func (s *Sim) TargetRPM() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.targetRPM)
}

func (s *Sim) ConfigureSensors(cfg SensorConfig) {
	s.mu.Lock()
	s.sensors = cfg
	s.mu.Unlock()
}

func (s *Sim) SensorConfig() SensorConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensors
}

// SensorSignal returns the tooth pattern the selected sensor produces over
// one revolution at the active configuration.
func (s *Sim) SensorSignal(kind SensorKind) (tooth.Pattern, error) {
	s.mu.Lock()
	cfg := s.sensors
	s.mu.Unlock()

	switch kind {
	case SensorCrank:
		return tooth.EncodeCrank(cfg.Crank), nil
	case SensorCam:
		return tooth.EncodeCam(cfg.Cam), nil
	default:
		return nil, fmt.Errorf("unknown sensor kind %q", kind)
	}
}

// advance steps the engine model forward by however many ramp ticks have
// elapsed since the last call. Caller holds s.mu.
func (s *Sim) advance() {
	now := time.Now()
	if s.lastTick.IsZero() {
		s.lastTick = now
		return
	}
	for now.Sub(s.lastTick) >= rampTick {
		s.lastTick = s.lastTick.Add(rampTick)
		diff := s.targetRPM - s.currentRPM
		switch {
		case diff > rampStepRPM:
			s.currentRPM += rampStepRPM
		case diff < -rampStepRPM:
			s.currentRPM -= rampStepRPM
		default:
			s.currentRPM = s.targetRPM
		}

		// Coolant drifts slowly toward a load-dependent equilibrium.
		load := s.loadAt(s.currentRPM)
		targetTemp := 85 + (load-15)*0.3
		s.coolant += (targetTemp - s.coolant) * 0.1

		// Fuel burns off very slowly while running.
		if s.currentRPM > 0 {
			s.fuelLevel -= 0.0005 * (1 + load/100)
			if s.fuelLevel < 0 {
				s.fuelLevel = 0
			}
		}
	}
}

func (s *Sim) loadAt(rpm float64) float64 {
	if rpm <= idleRPM {
		return 15
	}
	load := 15 + (rpm-idleRPM)/80
	if load > 95 {
		load = 95
	}
	return load
}

// LiveData synthesizes a frame of correlated channels from the current RPM.
func (s *Sim) LiveData() (*DataFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("simulator not connected")
	}
	s.advance()

	rpm := s.currentRPM

	throttle := float64(rand.Intn(4))
	if rpm > idleRPM {
		throttle = (rpm - idleRPM) / 70
		throttle += float64(rand.Intn(11) - 5)
		throttle = clamp(throttle, 0, 100)
	}

	load := clamp(s.loadAt(rpm)+float64(rand.Intn(11)-5), 0, 100)

	speed := 0.0
	if rpm > 1000 {
		speed = clamp((rpm-1000)/50+float64(rand.Intn(5)-2), 0, 200)
	}

	maf := 2.1 + (rpm-idleRPM)/1000 + (rand.Float64()*0.4 - 0.2)
	if maf < 0 {
		maf = 0
	}

	oil := 2.8 + (rand.Float64()*0.4 - 0.2)
	if rpm < 1000 {
		oil = 1.8 + (rand.Float64()*0.2 - 0.1)
	}

	timing := clamp(10+(rpm-idleRPM)/200+float64(rand.Intn(5)-2), 0, 35)

	f := &DataFrame{
		RPM:           int(rpm),
		CoolantTemp:   round1(s.coolant),
		ThrottlePos:   round1(throttle),
		EngineLoad:    round1(load),
		FuelLevel:     round1(s.fuelLevel),
		Speed:         round1(speed),
		IntakeAirTemp: 22 + rand.Float64()*3,
		MAF:           round1(maf),
		FuelPressure:  3.5 + (rand.Float64()*0.2 - 0.1),
		OilPressure:   round1(oil),
		BatteryVolts:  12.6 + (rand.Float64()*0.4 - 0.2),
		TimingAdvance: round1(timing),
	}
	return f, nil
}

func (s *Sim) ReadDTCs() (*DTCReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, fmt.Errorf("simulator not connected")
	}
	report := &DTCReport{
		Stored:  append([]DTC(nil), s.stored...),
		Pending: append([]DTC(nil), s.pending...),
	}
	return report, nil
}

func (s *Sim) ClearDTCs() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, fmt.Errorf("simulator not connected")
	}
	cleared := len(s.stored) + len(s.pending)
	s.stored = nil
	s.pending = nil
	return cleared, nil
}

// InjectDTC stores a trouble code so the DTC screens have something to show.
func (s *Sim) InjectDTC(code, description string) {
	if description == "" {
		description = "Simulated DTC"
	}
	s.mu.Lock()
	s.stored = append(s.stored, DTC{Code: code, Description: description, Status: DTCStored})
	s.mu.Unlock()
}

func (s *Sim) Info() (*Info, error) {
	return &Info{
		PartNumber:      "SIM-ECU-001",
		SoftwareVersion: "1.0.0-SIM",
		HardwareVersion: "A.01",
		CalibrationID:   "SIM_CAL_001",
		SerialNumber:    "SIM123456789",
		Protocols:       []string{"ISO14230", "ISO15765"},
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
