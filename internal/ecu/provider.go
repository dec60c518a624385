package ecu

import "github.com/ecuworks/diagdash/internal/tooth"

// Provider is the interface every ECU backend implements. Sim is the bench
// simulator; KLine (KWP2000 over a serial K-line adapter) and OBDCan (OBD-II
// over SocketCAN ISO-TP) talk to real controllers.
type Provider interface {
	// Name returns the human-readable name of this ECU provider.
	Name() string
	// Connect opens the transport and verifies communication.
	Connect() error
	// Close cleanly shuts down the connection.
	Close() error
	// IsConnected returns whether the provider has an active connection.
	IsConnected() bool

	// LiveData returns the current live sensor channels. Called from the
	// server poll goroutine.
	LiveData() (*DataFrame, error)

	// ReadDTCs returns the stored and pending diagnostic trouble codes.
	ReadDTCs() (*DTCReport, error)
	// ClearDTCs erases all trouble codes and returns how many were cleared.
	ClearDTCs() (int, error)

	// Info returns the ECU identification block.
	Info() (*Info, error)
}

// SensorKind selects which shaft sensor an operation refers to.
type SensorKind string

const (
	SensorCrank SensorKind = "crank"
	SensorCam   SensorKind = "cam"
)

// Simulated is implemented by the bench simulator on top of Provider. The
// RPM-simulator and sensor-configuration endpoints require it; real
// controllers do not offer these operations.
type Simulated interface {
	Provider

	// SetTargetRPM sets the RPM the simulated engine ramps toward.
	// Values are clamped to [0, 10000].
	SetTargetRPM(rpm int)
	// TargetRPM returns the current ramp target.
	TargetRPM() int

	// ConfigureSensors replaces the crank/cam sensor configuration.
	ConfigureSensors(cfg SensorConfig)
	// SensorConfig returns the active sensor configuration.
	SensorConfig() SensorConfig
	// SensorSignal returns the tooth pattern the given sensor produces over
	// one revolution at the active configuration.
	SensorSignal(kind SensorKind) (tooth.Pattern, error)

	// InjectDTC stores a trouble code, for exercising the DTC screens.
	InjectDTC(code, description string)
}

// SensorConfig is the validated crank/cam trigger configuration held by the
// simulator.
type SensorConfig struct {
	Crank tooth.CrankConfig
	Cam   tooth.CamConfig
}

// DataFrame holds one snapshot of live diagnostic channels.
type DataFrame struct {
	RPM           int     `json:"rpm"`
	CoolantTemp   float64 `json:"coolantTemp"`   // °C
	ThrottlePos   float64 `json:"throttlePos"`   // 0-100 %
	EngineLoad    float64 `json:"engineLoad"`    // 0-100 %
	FuelLevel     float64 `json:"fuelLevel"`     // 0-100 %
	Speed         float64 `json:"speed"`         // km/h
	IntakeAirTemp float64 `json:"intakeAirTemp"` // °C
	MAF           float64 `json:"maf"`           // g/s
	FuelPressure  float64 `json:"fuelPressure"`  // bar
	OilPressure   float64 `json:"oilPressure"`   // bar
	BatteryVolts  float64 `json:"batteryVolts"`  // V
	TimingAdvance float64 `json:"timingAdvance"` // deg BTDC
}

// DTCStatus distinguishes confirmed codes from pending ones.
type DTCStatus string

const (
	DTCStored  DTCStatus = "stored"
	DTCPending DTCStatus = "pending"
)

// DTC is a single diagnostic trouble code.
type DTC struct {
	Code        string    `json:"code"` // e.g. "P0300"
	Description string    `json:"description"`
	Status      DTCStatus `json:"status"`
}

// DTCReport groups the codes returned by a read.
type DTCReport struct {
	Stored  []DTC `json:"stored"`
	Pending []DTC `json:"pending"`
}

// Count returns the total number of codes in the report.
func (r *DTCReport) Count() int { return len(r.Stored) + len(r.Pending) }

// Info is the ECU identification block.
type Info struct {
	PartNumber      string   `json:"partNumber"`
	SoftwareVersion string   `json:"softwareVersion"`
	HardwareVersion string   `json:"hardwareVersion"`
	CalibrationID   string   `json:"calibrationId"`
	SerialNumber    string   `json:"serialNumber"`
	Protocols       []string `json:"protocols"`
}
