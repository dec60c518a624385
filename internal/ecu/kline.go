package ecu

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// KWP2000 (ISO 14230) service identifiers used by this provider.
const (
	kwpStartCommunication = 0x81
	kwpReadDataByLocalID  = 0x21
	kwpReadDTCByStatus    = 0x18
	kwpClearDiagInfo      = 0x14
	kwpReadECUIdent       = 0x1A

	kwpPositiveOffset = 0x40
	kwpNegative       = 0x7F
	kwpRespPending    = 0x78

	// Local identifier for the live-data record.
	lidLiveData = 0x01
	// ECU identification option: ECUIdentificationDataTable.
	identTable = 0x9B

	kwpTargetAddr = 0x10 // ECU
	kwpSourceAddr = 0xF1 // tester

	liveRecordSize = 17 // bytes in the lidLiveData response record
)

const (
	klineReadTimeout  = 2 * time.Second
	klinePostWrite    = 25 * time.Millisecond // P4 inter-byte gap on slow adapters
	klineDrainSilence = 100 * time.Millisecond
	klineDrainMax     = 1500 * time.Millisecond
)

// KLine implements Provider for KWP2000 ECUs behind a serial K-line adapter.
//
// Framing is the ISO 14230 "format byte with length" variant: a header of
// format (0x80|len), target and source address, the service payload, and a
// single-byte arithmetic checksum over everything before it.
type KLine struct {
	portPath string
	baudRate int

	mu        sync.Mutex
	port      serial.Port
	connected bool
}

// KLineConfig holds connection configuration for the K-line provider.
type KLineConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// NewKLine creates a KWP2000 K-line provider.
func NewKLine(cfg KLineConfig) *KLine {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 10400
	}
	return &KLine{portPath: cfg.PortPath, baudRate: cfg.BaudRate}
}

func (k *KLine) Name() string { return "KWP2000 (K-line)" }

// Connect opens the serial port and performs the startCommunication handshake.
func (k *KLine) Connect() error {
	mode := &serial.Mode{
		BaudRate: k.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(k.portPath, mode)
	if err != nil {
		return fmt.Errorf("kline: failed to open %s: %w", k.portPath, err)
	}
	if err := port.SetReadTimeout(klineReadTimeout); err != nil {
		port.Close()
		return fmt.Errorf("kline: failed to set timeout: %w", err)
	}

	k.mu.Lock()
	k.port = port
	k.mu.Unlock()

	k.drain("connect")

	if _, err := k.request([]byte{kwpStartCommunication}); err != nil {
		k.Close()
		return fmt.Errorf("kline: startCommunication failed: %w", err)
	}

	k.mu.Lock()
	k.connected = true
	k.mu.Unlock()
	log.Printf("[kline] connected on %s @ %d baud", k.portPath, k.baudRate)
	return nil
}

func (k *KLine) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.connected = false
	if k.port != nil {
		err := k.port.Close()
		k.port = nil
		return err
	}
	return nil
}

func (k *KLine) IsConnected() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.connected
}

// drain reads and discards whatever is sitting in the adapter's buffer until
// the line has been silent for klineDrainSilence.
func (k *KLine) drain(label string) {
	k.mu.Lock()
	port := k.port
	k.mu.Unlock()
	if port == nil {
		return
	}

	port.SetReadTimeout(klineDrainSilence)
	defer port.SetReadTimeout(klineReadTimeout)

	buf := make([]byte, 256)
	deadline := time.Now().Add(klineDrainMax)
	total := 0
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil || n == 0 {
			break
		}
		total += n
	}
	if total > 0 {
		log.Printf("[kline] %s: drained %d stale bytes", label, total)
	}
}

// frame wraps a service payload in the ISO 14230 header and checksum.
func frame(payload []byte) []byte {
	msg := make([]byte, 0, len(payload)+4)
	msg = append(msg, 0x80|byte(len(payload)), kwpTargetAddr, kwpSourceAddr)
	msg = append(msg, payload...)
	var sum byte
	for _, b := range msg {
		sum += b
	}
	return append(msg, sum)
}

// request sends one service request and returns the positive response
// payload (service ID stripped). Negative responses other than
// responsePending are returned as errors.
func (k *KLine) request(payload []byte) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.port == nil {
		return nil, fmt.Errorf("kline: port not open")
	}

	if _, err := k.port.Write(frame(payload)); err != nil {
		return nil, fmt.Errorf("kline: write: %w", err)
	}
	time.Sleep(klinePostWrite)

	sid := payload[0]
	for {
		resp, err := k.readFrame()
		if err != nil {
			return nil, err
		}
		switch {
		case resp[0] == sid+kwpPositiveOffset:
			return resp[1:], nil
		case resp[0] == kwpNegative && len(resp) >= 3 && resp[1] == sid:
			if resp[2] == kwpRespPending {
				continue
			}
			return nil, fmt.Errorf("kline: service 0x%02X rejected, NRC 0x%02X", sid, resp[2])
		default:
			// Echo of our own request on single-wire adapters, or an
			// unsolicited frame. Skip it.
		}
	}
}

// readFrame reads one checksummed ISO 14230 frame and returns its payload.
func (k *KLine) readFrame() ([]byte, error) {
	hdr := make([]byte, 3)
	if err := k.readExact(hdr); err != nil {
		return nil, fmt.Errorf("kline: read header: %w", err)
	}
	if hdr[0]&0x80 == 0 {
		return nil, fmt.Errorf("kline: bad format byte 0x%02X", hdr[0])
	}
	n := int(hdr[0] & 0x3F)
	if n == 0 {
		return nil, fmt.Errorf("kline: zero-length frame")
	}

	rest := make([]byte, n+1) // payload + checksum
	if err := k.readExact(rest); err != nil {
		return nil, fmt.Errorf("kline: read payload: %w", err)
	}

	var sum byte
	for _, b := range hdr {
		sum += b
	}
	for _, b := range rest[:n] {
		sum += b
	}
	if sum != rest[n] {
		return nil, fmt.Errorf("kline: checksum mismatch: calc 0x%02X, frame 0x%02X", sum, rest[n])
	}
	return rest[:n], nil
}

// readExact fills buf completely or fails on timeout.
func (k *KLine) readExact(buf []byte) error {
	got := 0
	deadline := time.Now().Add(klineReadTimeout)
	for got < len(buf) {
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout after %d/%d bytes", got, len(buf))
		}
		n, err := k.port.Read(buf[got:])
		if err != nil {
			return err
		}
		got += n
	}
	return nil
}

// LiveData polls the live-data record and parses it.
func (k *KLine) LiveData() (*DataFrame, error) {
	data, err := k.request([]byte{kwpReadDataByLocalID, lidLiveData})
	if err != nil {
		return nil, err
	}
	if len(data) < 1+liveRecordSize || data[0] != lidLiveData {
		return nil, fmt.Errorf("kline: short live-data record (%d bytes)", len(data))
	}
	return parseLiveRecord(data[1:]), nil
}

// parseLiveRecord decodes the fixed lidLiveData record layout:
//
//	0-1  RPM            (big endian, 1 rpm/bit)
//	2    coolant temp   (°C, -40 offset)
//	3    throttle pos   (%, 0-255 scaled)
//	4    engine load    (%, 0-255 scaled)
//	5    fuel level     (%, 0-255 scaled)
//	6    vehicle speed  (km/h)
//	7    intake air temp(°C, -40 offset)
//	8-9  MAF            (big endian, 0.01 g/s per bit)
//	10-11 fuel pressure (big endian, 0.001 bar per bit)
//	12-13 oil pressure  (big endian, 0.001 bar per bit)
//	14-15 battery volts (big endian, 0.001 V per bit)
//	16   timing advance (deg, -64 offset, 0.5 deg per bit)
func parseLiveRecord(d []byte) *DataFrame {
	u16 := func(i int) float64 { return float64(uint16(d[i])<<8 | uint16(d[i+1])) }
	return &DataFrame{
		RPM:           int(u16(0)),
		CoolantTemp:   float64(d[2]) - 40,
		ThrottlePos:   float64(d[3]) * 100 / 255,
		EngineLoad:    float64(d[4]) * 100 / 255,
		FuelLevel:     float64(d[5]) * 100 / 255,
		Speed:         float64(d[6]),
		IntakeAirTemp: float64(d[7]) - 40,
		MAF:           u16(8) * 0.01,
		FuelPressure:  u16(10) * 0.001,
		OilPressure:   u16(12) * 0.001,
		BatteryVolts:  u16(14) * 0.001,
		TimingAdvance: float64(d[16])/2 - 64,
	}
}

// ReadDTCs requests DTCs by status and splits them into stored and pending.
func (k *KLine) ReadDTCs() (*DTCReport, error) {
	// readDTCByStatus, group 0xFF00 (all groups).
	data, err := k.request([]byte{kwpReadDTCByStatus, 0x02, 0xFF, 0x00})
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("kline: empty DTC response")
	}

	count := int(data[0])
	report := &DTCReport{}
	off := 1
	for i := 0; i < count && off+2 < len(data); i++ {
		code := decodeDTC(data[off], data[off+1])
		status := data[off+2]
		dtc := DTC{Code: code, Description: "", Status: DTCStored}
		// Bit 6 of the status byte: confirmed. Unconfirmed codes are pending.
		if status&0x40 == 0 {
			dtc.Status = DTCPending
			report.Pending = append(report.Pending, dtc)
		} else {
			report.Stored = append(report.Stored, dtc)
		}
		off += 3
	}
	return report, nil
}

// ClearDTCs clears all diagnostic information and reports how many codes
// were present beforehand.
func (k *KLine) ClearDTCs() (int, error) {
	before, err := k.ReadDTCs()
	if err != nil {
		return 0, err
	}
	if _, err := k.request([]byte{kwpClearDiagInfo, 0xFF, 0x00}); err != nil {
		return 0, err
	}
	return before.Count(), nil
}

// Info reads the ECU identification table.
func (k *KLine) Info() (*Info, error) {
	data, err := k.request([]byte{kwpReadECUIdent, identTable})
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("kline: empty identification response")
	}
	if data[0] != identTable {
		return nil, fmt.Errorf("kline: unexpected identification option 0x%02X", data[0])
	}
	// The table is vendor-specific printable ASCII; expose it as the part
	// number and leave the rest blank rather than guess at layouts.
	return &Info{
		PartNumber: printable(data[1:]),
		Protocols:  []string{"ISO14230"},
	}, nil
}
