//go:build !linux

package ecu

import "fmt"

// OBDCan requires Linux SocketCAN ISO-TP support. On other platforms the
// provider exists so configs stay portable, but Connect always fails.
type OBDCan struct {
	iface string
}

// OBDCanConfig holds connection configuration for the SocketCAN provider.
type OBDCanConfig struct {
	Interface string `yaml:"interface" json:"interface"`
}

func NewOBDCan(cfg OBDCanConfig) *OBDCan {
	return &OBDCan{iface: cfg.Interface}
}

func (p *OBDCan) Name() string { return "OBD-II (SocketCAN)" }

func (p *OBDCan) Connect() error {
	return fmt.Errorf("obdcan: SocketCAN is only available on linux")
}

func (p *OBDCan) Close() error      { return nil }
func (p *OBDCan) IsConnected() bool { return false }

func (p *OBDCan) LiveData() (*DataFrame, error) {
	return nil, fmt.Errorf("obdcan: not connected")
}

func (p *OBDCan) ReadDTCs() (*DTCReport, error) {
	return nil, fmt.Errorf("obdcan: not connected")
}

func (p *OBDCan) ClearDTCs() (int, error) {
	return 0, fmt.Errorf("obdcan: not connected")
}

func (p *OBDCan) Info() (*Info, error) {
	return nil, fmt.Errorf("obdcan: not connected")
}
