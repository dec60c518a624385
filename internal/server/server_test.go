package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ecuworks/diagdash/internal/catalog"
	"github.com/ecuworks/diagdash/internal/ecu"
)

func testServer(t *testing.T, prov ecu.Provider) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), "config.yaml")

	cat, err := catalog.Load("")
	if err != nil {
		t.Fatalf("catalog.Load failed: %v", err)
	}
	settings := catalog.LoadSettings("") // in-memory
	return New(cfg, prov, cat, settings, nil)
}

func testSimServer(t *testing.T) (*Server, *ecu.Sim) {
	t.Helper()
	sim := ecu.NewSim()
	if err := sim.Connect(); err != nil {
		t.Fatal(err)
	}
	return testServer(t, sim), sim
}

func TestDTCReadAndClear(t *testing.T) {
	s, sim := testSimServer(t)
	sim.InjectDTC("P0300", "Random/Multiple Cylinder Misfire Detected")

	rec := httptest.NewRecorder()
	s.handleDTCRead(rec, httptest.NewRequest(http.MethodGet, "/api/dtc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/dtc = %d", rec.Code)
	}
	var report ecu.DTCReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if len(report.Stored) != 1 || report.Stored[0].Code != "P0300" {
		t.Errorf("report = %+v", report)
	}

	rec = httptest.NewRecorder()
	s.handleDTCClear(rec, httptest.NewRequest(http.MethodPost, "/api/dtc/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/dtc/clear = %d", rec.Code)
	}
	var cleared map[string]int
	json.NewDecoder(rec.Body).Decode(&cleared)
	if cleared["cleared"] != 1 {
		t.Errorf("cleared = %v, want 1", cleared)
	}

	// GET on the clear endpoint is rejected.
	rec = httptest.NewRecorder()
	s.handleDTCClear(rec, httptest.NewRequest(http.MethodGet, "/api/dtc/clear", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/dtc/clear = %d, want 405", rec.Code)
	}
}

func TestSimRPM(t *testing.T) {
	s, _ := testSimServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sim/rpm", strings.NewReader(`{"target": 3000}`))
	s.handleSimRPM(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/sim/rpm = %d: %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	s.handleSimRPM(rec, httptest.NewRequest(http.MethodGet, "/api/sim/rpm", nil))
	var resp map[string]int
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["target"] != 3000 {
		t.Errorf("target = %d, want 3000", resp["target"])
	}
	if resp["max"] != 10000 || resp["step"] != 100 {
		t.Errorf("range = %v", resp)
	}

	// Out-of-range targets are clamped, not rejected.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/sim/rpm", strings.NewReader(`{"target": 50000}`))
	s.handleSimRPM(rec, req)
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["target"] != 10000 {
		t.Errorf("clamped target = %d, want 10000", resp["target"])
	}
}

func TestSimSensors(t *testing.T) {
	s, _ := testSimServer(t)

	// Default config: 60-2 crank, explicit 12-tooth cam.
	rec := httptest.NewRecorder()
	s.handleSimSensors(rec, httptest.NewRequest(http.MethodGet, "/api/sim/sensors", nil))
	var resp sensorConfigResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Crank.Pattern) != 60 {
		t.Errorf("crank pattern length = %d, want 60", len(resp.Crank.Pattern))
	}
	if !resp.Cam.Explicit || len(resp.Cam.Pattern) != 12 {
		t.Errorf("cam = %+v, want explicit 12-tooth", resp.Cam)
	}

	// Reconfigure to a 36-1 crank and a regular 30-tooth cam.
	body := `{"crank":{"degreesPerTooth":10,"missingTeeth":1},"cam":{"degreesPerTooth":12}}`
	rec = httptest.NewRecorder()
	s.handleSimSensors(rec, httptest.NewRequest(http.MethodPost, "/api/sim/sensors", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/sim/sensors = %d: %s", rec.Code, rec.Body)
	}
	resp = sensorConfigResponse{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Crank.Pattern) != 36 {
		t.Errorf("crank pattern length = %d, want 36", len(resp.Crank.Pattern))
	}
	if resp.Crank.Pattern[35] != 0 {
		t.Error("missing tooth not at the tail of the crank pattern")
	}
	if resp.Cam.Explicit || len(resp.Cam.Pattern) != 30 {
		t.Errorf("cam = %+v, want regular 30-tooth", resp.Cam)
	}
}

func TestSimSensorsValidation(t *testing.T) {
	s, _ := testSimServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"crank degrees not dividing 360", `{"crank":{"degreesPerTooth":7,"missingTeeth":0}}`},
		{"missing teeth equals teeth per rev", `{"crank":{"degreesPerTooth":6,"missingTeeth":60}}`},
		{"cam pattern with bad bit", `{"cam":{"pattern":[1,0,2]}}`},
		{"cam degrees not dividing 360", `{"cam":{"degreesPerTooth":11}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/sim/sensors", strings.NewReader(tt.body))
			s.handleSimSensors(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body)
			}
		})
	}

	// A rejected update must not clobber the existing configuration.
	rec := httptest.NewRecorder()
	s.handleSimSensors(rec, httptest.NewRequest(http.MethodGet, "/api/sim/sensors", nil))
	var resp sensorConfigResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Crank.Pattern) != 60 {
		t.Errorf("crank pattern length = %d after rejected updates, want 60", len(resp.Crank.Pattern))
	}
}

func TestSimEndpointsRequireSimulator(t *testing.T) {
	s := testServer(t, ecu.NewKLine(ecu.KLineConfig{PortPath: "/dev/null"}))

	rec := httptest.NewRecorder()
	s.handleSimRPM(rec, httptest.NewRequest(http.MethodGet, "/api/sim/rpm", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("GET /api/sim/rpm with kline provider = %d, want 409", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleSimSensors(rec, httptest.NewRequest(http.MethodGet, "/api/sim/sensors", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("GET /api/sim/sensors with kline provider = %d, want 409", rec.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	s, _ := testSimServer(t)

	rec := httptest.NewRecorder()
	s.handleBrands(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/brands", nil))
	var brands map[string][]string
	json.NewDecoder(rec.Body).Decode(&brands)
	if len(brands["brands"]) == 0 {
		t.Fatal("no brands returned")
	}

	rec = httptest.NewRecorder()
	s.handleTools(rec, httptest.NewRequest(http.MethodGet,
		"/api/catalog/tools?brand=Volkswagen&type=Engine&system=1.9+TDI+%28EDC15%29", nil))
	var tools map[string][]catalog.Tool
	json.NewDecoder(rec.Body).Decode(&tools)
	if len(tools["tools"]) != 3 {
		t.Errorf("tools = %v, want 3", tools["tools"])
	}

	// Unknown system returns an empty list, not an error.
	rec = httptest.NewRecorder()
	s.handleTools(rec, httptest.NewRequest(http.MethodGet, "/api/catalog/tools?brand=Nope", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("unknown system = %d, want 200", rec.Code)
	}
	tools = nil
	json.NewDecoder(rec.Body).Decode(&tools)
	if tools["tools"] == nil || len(tools["tools"]) != 0 {
		t.Errorf("unknown system tools = %v, want []", tools["tools"])
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	s, _ := testSimServer(t)

	body := `{"brand":"Toyota","systemType":"Engine","systemName":"1ZZ-FE","tool":"Live Data"}`
	rec := httptest.NewRecorder()
	s.handleSelection(rec, httptest.NewRequest(http.MethodPost, "/api/selection", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/selection = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleSelection(rec, httptest.NewRequest(http.MethodGet, "/api/selection", nil))
	var sel catalog.Selection
	json.NewDecoder(rec.Body).Decode(&sel)
	if sel.Brand != "Toyota" || sel.Tool != "Live Data" {
		t.Errorf("selection = %+v", sel)
	}
}

func TestConfigDeepMerge(t *testing.T) {
	s, _ := testSimServer(t)

	body := `{"display":{"thresholds":{"rpmWarn":5500}}}`
	rec := httptest.NewRecorder()
	s.handleConfig(rec, httptest.NewRequest(http.MethodPost, "/api/config", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /api/config = %d: %s", rec.Code, rec.Body)
	}

	if s.cfg.Display.Thresholds.RPMWarn != 5500 {
		t.Errorf("rpmWarn = %d, want 5500", s.cfg.Display.Thresholds.RPMWarn)
	}
	// Untouched siblings survive the merge.
	if s.cfg.Display.Thresholds.RPMMax != 10000 {
		t.Errorf("rpmMax = %d, want 10000 (clobbered by merge)", s.cfg.Display.Thresholds.RPMMax)
	}
	if s.cfg.ECU.Type != "sim" {
		t.Errorf("ecu type = %q, want sim", s.cfg.ECU.Type)
	}
}

func TestECUInfo(t *testing.T) {
	s, _ := testSimServer(t)

	rec := httptest.NewRecorder()
	s.handleECUInfo(rec, httptest.NewRequest(http.MethodGet, "/api/ecu/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/ecu/info = %d", rec.Code)
	}
	var info ecu.Info
	json.NewDecoder(rec.Body).Decode(&info)
	if info.PartNumber != "SIM-ECU-001" {
		t.Errorf("part number = %q", info.PartNumber)
	}
}
