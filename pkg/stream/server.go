package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mlsorensen/gobalance/pkg/boards/balanceboard/calibration"
)

// CalibrationFunc reports the calibration references of the running board.
// ok is false when none are available.
type CalibrationFunc func() (snap calibration.Snapshot, ok bool)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// local tool; allow all origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the live stream over HTTP.
type Server struct {
	hub         *Hub
	calibration CalibrationFunc
	router      chi.Router
}

// NewServer builds the routes. calib may be nil.
func NewServer(hub *Hub, calib CalibrationFunc) *Server {
	s := &Server{hub: hub, calibration: calib, router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/calibration", s.handleCalibration)
	s.router.Get("/ws", s.handleWS)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.CloseAll()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("starting stream server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.Len(),
	})
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	if s.calibration == nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "calibration not available"})
		return
	}
	snap, ok := s.calibration()
	if !ok {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "calibration not available"})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// handleWS upgrades, registers and then reads until the client goes away.
// Incoming messages are discarded.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.hub.Add(conn)
	log.Debug().Str("remote", r.RemoteAddr).Msg("stream client connected")

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.Remove(client)
			log.Debug().Str("remote", r.RemoteAddr).Msg("stream client gone")
			return
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
