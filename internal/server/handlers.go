package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ecuworks/diagdash/internal/catalog"
	"github.com/ecuworks/diagdash/internal/ecu"
	"github.com/ecuworks/diagdash/internal/tooth"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// sim returns the provider as the bench simulator, or nil with a 409 written
// when a real ECU is connected.
func (s *Server) sim(w http.ResponseWriter) ecu.Simulated {
	if sim, ok := s.prov.(ecu.Simulated); ok {
		return sim
	}
	writeError(w, http.StatusConflict, "active ECU provider is not the simulator")
	return nil
}

func (s *Server) handleECUInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	info, err := s.prov.Info()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, info)
}

func (s *Server) handleDTCRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.prov.ReadDTCs()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleDTCClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	cleared, err := s.prov.ClearDTCs()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	log.Printf("[dtc] cleared %d codes", cleared)
	writeJSON(w, map[string]int{"cleared": cleared})
}

func (s *Server) handleSimRPM(w http.ResponseWriter, r *http.Request) {
	sim := s.sim(w)
	if sim == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]int{"target": sim.TargetRPM(), "min": 0, "max": 10000, "step": 100})

	case http.MethodPost:
		var req struct {
			Target int `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad request body")
			return
		}
		sim.SetTargetRPM(req.Target)
		writeJSON(w, map[string]int{"target": sim.TargetRPM()})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// sensorConfigResponse carries the active configuration with the encoded
// patterns, so clients never re-derive them.
type sensorConfigResponse struct {
	Crank struct {
		DegreesPerTooth int           `json:"degreesPerTooth"`
		MissingTeeth    int           `json:"missingTeeth"`
		Pattern         tooth.Pattern `json:"pattern"`
	} `json:"crank"`
	Cam struct {
		DegreesPerTooth int           `json:"degreesPerTooth,omitempty"`
		Explicit        bool          `json:"explicit"`
		Pattern         tooth.Pattern `json:"pattern"`
	} `json:"cam"`
}

func sensorResponse(cfg ecu.SensorConfig) sensorConfigResponse {
	var resp sensorConfigResponse
	resp.Crank.DegreesPerTooth = cfg.Crank.DegreesPerTooth
	resp.Crank.MissingTeeth = cfg.Crank.MissingTeeth
	resp.Crank.Pattern = tooth.EncodeCrank(cfg.Crank)
	resp.Cam.DegreesPerTooth = cfg.Cam.DegreesPerTooth()
	_, resp.Cam.Explicit = cfg.Cam.Explicit()
	resp.Cam.Pattern = tooth.EncodeCam(cfg.Cam)
	return resp
}

func (s *Server) handleSimSensors(w http.ResponseWriter, r *http.Request) {
	sim := s.sim(w)
	if sim == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, sensorResponse(sim.SensorConfig()))

	case http.MethodPost:
		var req struct {
			Crank *struct {
				DegreesPerTooth int `json:"degreesPerTooth"`
				MissingTeeth    int `json:"missingTeeth"`
			} `json:"crank"`
			Cam *struct {
				DegreesPerTooth int         `json:"degreesPerTooth"`
				Pattern         []tooth.Bit `json:"pattern"`
			} `json:"cam"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad request body")
			return
		}

		cfg := sim.SensorConfig()
		if req.Crank != nil {
			crank, err := tooth.NewCrankConfig(req.Crank.DegreesPerTooth, req.Crank.MissingTeeth)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			cfg.Crank = crank
		}
		if req.Cam != nil {
			var (
				cam tooth.CamConfig
				err error
			)
			if len(req.Cam.Pattern) > 0 {
				cam, err = tooth.CamPattern(req.Cam.Pattern)
			} else {
				cam, err = tooth.CamDegrees(req.Cam.DegreesPerTooth)
			}
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			cfg.Cam = cam
		}

		sim.ConfigureSensors(cfg)
		writeJSON(w, sensorResponse(sim.SensorConfig()))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBrands(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"brands": s.cat.Brands()})
}

func (s *Server) handleSystemTypes(w http.ResponseWriter, r *http.Request) {
	brand := r.URL.Query().Get("brand")
	writeJSON(w, map[string][]string{"types": s.cat.SystemTypes(brand)})
}

func (s *Server) handleSystemNames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	writeJSON(w, map[string][]string{
		"systems": s.cat.SystemNames(q.Get("brand"), q.Get("type")),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tools := s.cat.Tools(q.Get("brand"), q.Get("type"), q.Get("system"))
	if tools == nil {
		tools = []catalog.Tool{}
	}
	writeJSON(w, map[string][]catalog.Tool{"tools": tools})
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sel := s.settings.Selection()
		writeJSON(w, sel)

	case http.MethodPost:
		var sel catalog.Selection
		if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
			writeError(w, http.StatusBadRequest, "bad request body")
			return
		}
		if err := s.settings.UpdateSelection(sel); err != nil {
			// Selection still applies in memory; persistence is best-effort.
			log.Printf("[settings] save failed: %v", err)
		}
		writeJSON(w, sel)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Push updated display config to connected dashboards
		s.broadcast(Frame{Config: &s.cfg.Display, Stamp: time.Now().UnixMilli()})
		writeJSON(w, map[string]string{"status": "ok"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
