package server

import (
	"context"
	"encoding/json"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ecuworks/diagdash/internal/catalog"
	"github.com/ecuworks/diagdash/internal/ecu"
	"github.com/ecuworks/diagdash/internal/logger"
)

// Server polls the ECU provider and broadcasts live data to WebSocket
// clients, and serves the diagnostic REST API and the embedded dashboard.
type Server struct {
	cfg      *Config
	prov     ecu.Provider
	cat      *catalog.Catalog
	settings *catalog.Settings
	webFS    fs.FS
	logger   *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	ECU       *ecu.DataFrame     `json:"ecu,omitempty"`
	Config    *DisplayConfig     `json:"config,omitempty"`
	Selection *catalog.Selection `json:"selection,omitempty"`
	Provider  string             `json:"provider,omitempty"`
	Connected bool               `json:"connected"`
	Stamp     int64              `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config, prov ecu.Provider, cat *catalog.Catalog, settings *catalog.Settings, webFS fs.FS) *Server {
	return &Server{
		cfg:      cfg,
		prov:     prov,
		cat:      cat,
		settings: settings,
		webFS:    webFS,
		logger:   logger.New(cfg.Logging),
		clients:  make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and the ECU poll loop.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Embedded dashboard
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// Live data stream
	mux.HandleFunc("/ws", s.handleWS)

	// Diagnostic API
	mux.HandleFunc("/api/ecu/info", s.handleECUInfo)
	mux.HandleFunc("/api/dtc", s.handleDTCRead)
	mux.HandleFunc("/api/dtc/clear", s.handleDTCClear)
	mux.HandleFunc("/api/sim/rpm", s.handleSimRPM)
	mux.HandleFunc("/api/sim/sensors", s.handleSimSensors)
	mux.HandleFunc("/api/catalog/brands", s.handleBrands)
	mux.HandleFunc("/api/catalog/types", s.handleSystemTypes)
	mux.HandleFunc("/api/catalog/systems", s.handleSystemNames)
	mux.HandleFunc("/api/catalog/tools", s.handleTools)
	mux.HandleFunc("/api/selection", s.handleSelection)
	mux.HandleFunc("/api/config", s.handleConfig)

	go s.pollLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", total)

	// Initial hello: display config + restored selection
	sel := s.settings.Selection()
	hello := Frame{
		Config:    &s.cfg.Display,
		Selection: &sel,
		Provider:  s.prov.Name(),
		Connected: s.prov.IsConnected(),
		Stamp:     time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(hello); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (keep-alive; drops the client on error)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			total := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", total)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// pollLoop requests live data at the configured rate and broadcasts it.
// Polling continues through provider errors so the dashboard recovers as
// soon as the ECU answers again.
func (s *Server) pollLoop(ctx context.Context) {
	hz := s.cfg.ECU.PollHz
	if hz <= 0 {
		hz = 10
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	var lastErr string
	for {
		select {
		case <-ctx.Done():
			s.logger.Close()
			return
		case <-ticker.C:
			if !s.prov.IsConnected() {
				continue
			}
			frame, err := s.prov.LiveData()
			if err != nil {
				if err.Error() != lastErr {
					log.Printf("[poll] live data: %v", err)
					lastErr = err.Error()
				}
				continue
			}
			lastErr = ""

			s.broadcast(Frame{
				ECU:       frame,
				Provider:  s.prov.Name(),
				Connected: true,
				Stamp:     time.Now().UnixMilli(),
			})
			s.logger.Record(frame)
		}
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
