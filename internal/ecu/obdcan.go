//go:build linux

package ecu

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// OBD-II over ISO-TP on SocketCAN.
const (
	obdCanIDReq = 0x7DF // functional request
	obdCanIDRsp = 0x7E8 // first ECU response

	obdModeCurrentData = 0x01
	obdModeStoredDTC   = 0x03
	obdModeClearDTC    = 0x04
	obdModePendingDTC  = 0x07
	obdModeVehicleInfo = 0x09

	obdPositiveOffset = 0x40
	obdNegative       = 0x7F
	obdRespPending    = 0x78

	obdRespTimeout = 300 * time.Millisecond
)

// Live-data PIDs polled per frame.
const (
	pidEngineLoad  = 0x04
	pidCoolantTemp = 0x05
	pidFuelPress   = 0x0A
	pidRPM         = 0x0C
	pidSpeed       = 0x0D
	pidTimingAdv   = 0x0E
	pidIntakeTemp  = 0x0F
	pidMAF         = 0x10
	pidThrottle    = 0x11
	pidFuelLevel   = 0x2F
	pidBatteryV    = 0x42

	infoVIN = 0x02
)

// OBDCan implements Provider over a Linux SocketCAN ISO-TP socket. The
// kernel handles segmentation and flow control; each request/response is a
// single ISO-TP payload.
type OBDCan struct {
	iface string

	fd   int
	conn *os.File

	mu          sync.Mutex
	connected   bool
	waitChannel chan []byte
	done        chan struct{}
}

// OBDCanConfig holds connection configuration for the SocketCAN provider.
type OBDCanConfig struct {
	Interface string `yaml:"interface" json:"interface"` // e.g. can0
}

// NewOBDCan creates an OBD-II provider on the given CAN interface.
func NewOBDCan(cfg OBDCanConfig) *OBDCan {
	iface := cfg.Interface
	if iface == "" {
		iface = "can0"
	}
	return &OBDCan{iface: iface, fd: -1}
}

func (p *OBDCan) Name() string { return "OBD-II (SocketCAN)" }

// Connect binds an ISO-TP socket to the OBD request/response ID pair and
// verifies the ECU answers a mode 01 PID 00 probe.
func (p *OBDCan) Connect() error {
	ifi, err := net.InterfaceByName(p.iface)
	if err != nil {
		return fmt.Errorf("obdcan: lookup interface %s: %w", p.iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_ISOTP)
	if err != nil {
		return fmt.Errorf("obdcan: open isotp socket: %w", err)
	}
	addr := &unix.SockaddrCAN{Ifindex: ifi.Index, RxID: obdCanIDRsp, TxID: obdCanIDReq}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("obdcan: bind isotp: %w", err)
	}

	p.mu.Lock()
	p.fd = fd
	p.conn = os.NewFile(uintptr(fd), fmt.Sprintf("isotp-%s", p.iface))
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.receiveLoop()

	// Probe: supported-PIDs bitmap. Any positive response means an ECU is
	// listening.
	if _, err := p.sendAndWait([]byte{obdModeCurrentData, 0x00}); err != nil {
		p.Close()
		return fmt.Errorf("obdcan: probe failed: %w", err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	log.Printf("[obdcan] connected on %s", p.iface)
	return nil
}

func (p *OBDCan) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		p.fd = -1
		return err
	}
	return nil
}

func (p *OBDCan) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// receiveLoop drains the socket and hands frames to whichever request is
// waiting. Unsolicited frames are dropped.
func (p *OBDCan) receiveLoop() {
	buf := make([]byte, 4095)
	for {
		p.mu.Lock()
		fd, done := p.fd, p.done
		p.mu.Unlock()
		if fd < 0 || done == nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])

		p.mu.Lock()
		ch := p.waitChannel
		p.mu.Unlock()
		if ch != nil {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

// sendAndWait writes one OBD request and waits for the matching positive
// response (mode + 0x40), retrying through response-pending NRCs.
func (p *OBDCan) sendAndWait(req []byte) ([]byte, error) {
	mode := req[0]
	respCh := make(chan []byte, 4)

	p.mu.Lock()
	if p.fd < 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("obdcan: socket not open")
	}
	p.waitChannel = respCh
	tv := unix.NsecToTimeval(obdRespTimeout.Nanoseconds())
	unix.SetsockoptTimeval(p.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
	unix.SetsockoptTimeval(p.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	_, err := unix.Write(p.fd, req)
	p.mu.Unlock()
	if err != nil {
		p.clearWait()
		return nil, fmt.Errorf("obdcan: write: %w", err)
	}
	defer p.clearWait()

	deadline := time.NewTimer(obdRespTimeout * 4)
	defer deadline.Stop()
	for {
		select {
		case msg := <-respCh:
			if len(msg) == 0 {
				continue
			}
			if msg[0] == mode+obdPositiveOffset {
				return msg[1:], nil
			}
			if msg[0] == obdNegative && len(msg) >= 3 && msg[1] == mode {
				if msg[2] == obdRespPending {
					continue
				}
				return nil, fmt.Errorf("obdcan: mode 0x%02X rejected, NRC 0x%02X", mode, msg[2])
			}
		case <-deadline.C:
			return nil, fmt.Errorf("obdcan: timeout waiting for mode 0x%02X response", mode)
		}
	}
}

func (p *OBDCan) clearWait() {
	p.mu.Lock()
	p.waitChannel = nil
	p.mu.Unlock()
}

// pid issues one mode 01 PID request and returns the data bytes after the
// echoed PID.
func (p *OBDCan) pid(id byte) ([]byte, error) {
	resp, err := p.sendAndWait([]byte{obdModeCurrentData, id})
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 || resp[0] != id {
		return nil, fmt.Errorf("obdcan: unexpected PID 0x%02X response % X", id, resp)
	}
	return resp[1:], nil
}

// LiveData polls the standard PID set. PIDs the vehicle does not support
// simply leave their channel at zero.
func (p *OBDCan) LiveData() (*DataFrame, error) {
	f := &DataFrame{}

	if d, err := p.pid(pidRPM); err == nil && len(d) >= 2 {
		f.RPM = (int(d[0])<<8 | int(d[1])) / 4
	} else if err != nil {
		// RPM is the one channel worth failing over; without it the frame
		// is useless.
		return nil, err
	}
	if d, err := p.pid(pidCoolantTemp); err == nil && len(d) >= 1 {
		f.CoolantTemp = float64(d[0]) - 40
	}
	if d, err := p.pid(pidThrottle); err == nil && len(d) >= 1 {
		f.ThrottlePos = float64(d[0]) * 100 / 255
	}
	if d, err := p.pid(pidEngineLoad); err == nil && len(d) >= 1 {
		f.EngineLoad = float64(d[0]) * 100 / 255
	}
	if d, err := p.pid(pidFuelLevel); err == nil && len(d) >= 1 {
		f.FuelLevel = float64(d[0]) * 100 / 255
	}
	if d, err := p.pid(pidSpeed); err == nil && len(d) >= 1 {
		f.Speed = float64(d[0])
	}
	if d, err := p.pid(pidIntakeTemp); err == nil && len(d) >= 1 {
		f.IntakeAirTemp = float64(d[0]) - 40
	}
	if d, err := p.pid(pidMAF); err == nil && len(d) >= 2 {
		f.MAF = float64(int(d[0])<<8|int(d[1])) / 100
	}
	if d, err := p.pid(pidFuelPress); err == nil && len(d) >= 1 {
		f.FuelPressure = float64(d[0]) * 3 / 100 // 3 kPa/bit -> bar
	}
	if d, err := p.pid(pidBatteryV); err == nil && len(d) >= 2 {
		f.BatteryVolts = float64(int(d[0])<<8|int(d[1])) / 1000
	}
	if d, err := p.pid(pidTimingAdv); err == nil && len(d) >= 1 {
		f.TimingAdvance = float64(d[0])/2 - 64
	}
	return f, nil
}

// ReadDTCs reads stored (mode 03) and pending (mode 07) codes.
func (p *OBDCan) ReadDTCs() (*DTCReport, error) {
	report := &DTCReport{}

	stored, err := p.sendAndWait([]byte{obdModeStoredDTC})
	if err != nil {
		return nil, err
	}
	report.Stored = decodeDTCList(stored, DTCStored)

	pending, err := p.sendAndWait([]byte{obdModePendingDTC})
	if err == nil {
		report.Pending = decodeDTCList(pending, DTCPending)
	}
	return report, nil
}

// ClearDTCs sends mode 04 and reports how many codes were present.
func (p *OBDCan) ClearDTCs() (int, error) {
	before, err := p.ReadDTCs()
	if err != nil {
		return 0, err
	}
	if _, err := p.sendAndWait([]byte{obdModeClearDTC}); err != nil {
		return 0, err
	}
	return before.Count(), nil
}

// Info reads the VIN via mode 09.
func (p *OBDCan) Info() (*Info, error) {
	resp, err := p.sendAndWait([]byte{obdModeVehicleInfo, infoVIN})
	if err != nil {
		return nil, err
	}
	// Response: infotype, NODI count, then the VIN bytes.
	vin := ""
	if len(resp) > 2 && resp[0] == infoVIN {
		vin = printable(resp[2:])
	}
	return &Info{
		SerialNumber: vin,
		Protocols:    []string{"ISO15765"},
	}, nil
}
