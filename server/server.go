package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ftahirops/hostwatch/engine"
	"github.com/ftahirops/hostwatch/model"
)

const (
	defaultSnapshotSamples   = 300
	defaultSnapshotAnomalies = 50
	writeWait                = 10 * time.Second
	pingPeriod               = 30 * time.Second
)

// Server exposes the engine over HTTP: JSON snapshot endpoints, a websocket
// event stream, and Prometheus metrics.
type Server struct {
	eng *engine.Engine
	log zerolog.Logger
	srv *http.Server
	up  websocket.Upgrader
}

// New builds the HTTP server on the given listen address.
func New(addr string, eng *engine.Engine, log zerolog.Logger) *Server {
	s := &Server{
		eng: eng,
		log: log,
		up: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/anomalies", s.handleAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.HandlerFor(eng.Metrics().Registry, promhttp.HandlerOpts{}))

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket handler manages its own deadlines
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("http listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response write failed")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	k := queryInt(r, "samples", defaultSnapshotSamples)
	l := queryInt(r, "anomalies", defaultSnapshotAnomalies)
	s.writeJSON(w, s.eng.Snapshot(k, l))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.eng.Stats())
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	l := queryInt(r, "limit", defaultSnapshotAnomalies)
	snap := s.eng.Snapshot(0, l)
	if snap.Anomalies == nil {
		snap.Anomalies = []model.AnomalyRecord{}
	}
	s.writeJSON(w, snap.Anomalies)
}

// handleWS upgrades to a websocket, sends the current snapshot as the first
// frame, then streams bus events until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := s.eng.Subscribe()
	defer s.eng.Unsubscribe(sub.ID)
	s.log.Debug().Str("subscriber", sub.ID).Msg("websocket client connected")

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(s.eng.Snapshot(defaultSnapshotSamples, defaultSnapshotAnomalies)); err != nil {
		return
	}

	// Discard client frames; their only use is detecting disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
