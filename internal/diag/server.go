// Package diag serves a read-only HTTP view of the network-id
// manager: our id, the group registry, the sample matrix, and the
// Prometheus metrics endpoint.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/misaakidis/fred-staging/pkg/netid"
)

// Runtime is what the server needs from the node. It decouples the
// diag package from the daemon wiring.
type Runtime interface {
	Manager() *netid.Manager
	Metrics() *netid.Metrics
	StartTime() time.Time
}

// Server is the diagnostics HTTP server.
type Server struct {
	runtime    Runtime
	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the server with its routes.
func NewServer(rt Runtime) *Server {
	s := &Server{runtime: rt}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/v1/networkid", s.handleNetworkID).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups", s.handleGroups).Methods(http.MethodGet)
	r.HandleFunc("/v1/matrix", s.handleMatrix).Methods(http.MethodGet)
	r.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	if m := rt.Metrics(); m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving on addr. Returns once the listener is bound;
// serving continues in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("diag: serve failed", "error", err)
		}
	}()

	slog.Info("diag: listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// networkIDResponse is the /v1/networkid payload.
type networkIDResponse struct {
	NetworkID int32 `json:"network_id"`
}

func (s *Server) handleNetworkID(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, networkIDResponse{NetworkID: s.runtime.Manager().OurNetworkID()})
}

// groupInfo is one registry entry in the /v1/groups payload.
type groupInfo struct {
	NetworkID int32    `json:"network_id"`
	OurGroup  bool     `json:"our_group"`
	Members   []string `json:"members"`
}

func (s *Server) handleGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.runtime.Manager().Groups()
	out := make([]groupInfo, 0, len(groups))
	for _, g := range groups {
		info := groupInfo{
			NetworkID: g.NetworkID(),
			OurGroup:  g.OurGroup(),
		}
		for _, m := range g.Members() {
			info.Members = append(info.Members, m.ID().String())
		}
		out = append(out, info)
	}
	writeJSON(w, out)
}

func (s *Server) handleMatrix(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.runtime.Manager().MatrixAverages())
}

// statusResponse is the /v1/status payload.
type statusResponse struct {
	NetworkID     int32   `json:"network_id"`
	Groups        int     `json:"groups"`
	ProbeAttempts uint64  `json:"probe_attempts"`
	ProbeSuccess  uint64  `json:"probe_successes"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	mgr := s.runtime.Manager()
	attempts, successes := mgr.ProbeCounters()
	writeJSON(w, statusResponse{
		NetworkID:     mgr.OurNetworkID(),
		Groups:        len(mgr.Groups()),
		ProbeAttempts: attempts,
		ProbeSuccess:  successes,
		UptimeSeconds: time.Since(s.runtime.StartTime()).Seconds(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("diag: encode failed", "error", err)
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("diag: request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).Round(time.Microsecond))
	})
}
