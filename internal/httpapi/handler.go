// Package httpapi wires the REST endpoints and the WebSocket topic transport
// to the editor service.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"pkt.systems/coedit/api"
	"pkt.systems/coedit/internal/editor"
	"pkt.systems/coedit/internal/hub"
	"pkt.systems/coedit/internal/loggingutil"
	"pkt.systems/pslog"
)

const (
	// HeaderUser carries the authenticated user name, supplied by the
	// fronting session layer.
	HeaderUser = "X-Coedit-User"
	// HeaderRole carries the authenticated role string.
	HeaderRole = "X-Coedit-Role"

	defaultUser = "anonymous"

	// maxRunBodyBytes bounds /api/run request bodies.
	maxRunBodyBytes = 1 << 20
)

// Config wires the handler's collaborators.
type Config struct {
	Service *editor.Service
	Hub     *hub.Hub
	Logger  pslog.Logger
	// SubscriberBuffer is the per-WebSocket outbound queue depth (<=0 selects
	// the hub default).
	SubscriberBuffer int
}

// Handler serves the coedit HTTP surface.
type Handler struct {
	svc       *editor.Service
	hub       *hub.Hub
	logger    pslog.Logger
	mux       *http.ServeMux
	started   time.Time
	subBuffer int
}

// New constructs the handler and its routing table.
func New(cfg Config) *Handler {
	h := &Handler{
		svc:       cfg.Service,
		hub:       cfg.Hub,
		logger:    loggingutil.WithSubsystem(cfg.Logger, "httpapi"),
		mux:       http.NewServeMux(),
		started:   time.Now(),
		subBuffer: cfg.SubscriberBuffer,
	}
	h.mux.HandleFunc("GET /api/files", h.handleFiles)
	h.mux.HandleFunc("GET /api/editor/content", h.handleContent)
	h.mux.HandleFunc("GET /api/stats", h.handleStats)
	h.mux.HandleFunc("POST /api/run", h.handleRun)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.HandleFunc("GET /ws", h.handleWS)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// identity extracts the caller's user and role from the session headers.
func identity(r *http.Request) (user, role string) {
	user = r.Header.Get(HeaderUser)
	if user == "" {
		user = defaultUser
	}
	role = r.Header.Get(HeaderRole)
	if role == "" {
		role = api.RoleUser
	}
	return user, role
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	_, role := identity(r)
	paths := h.svc.ListFiles(role)
	if paths == nil {
		paths = []string{}
	}
	h.writeJSON(w, http.StatusOK, paths)
}

func (h *Handler) handleContent(w http.ResponseWriter, r *http.Request) {
	_, role := identity(r)
	path := r.URL.Query().Get("path")
	body, ok := h.svc.Content(path, role)
	status := http.StatusOK
	if !ok {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req api.RunRequest
	body := http.MaxBytesReader(w, r.Body, maxRunBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeRunFailure(w, "Local Execution Error: "+err.Error())
		return
	}
	resp, err := h.svc.Run(r.Context(), req)
	if err != nil {
		h.writeRunFailure(w, "Local Execution Error: "+err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeRunFailure(w http.ResponseWriter, diagnostic string) {
	h.writeJSON(w, http.StatusInternalServerError, api.RunResponse{
		Run: api.RunOutput{Output: diagnostic},
	})
}

type healthResponse struct {
	Status      string  `json:"status"`
	Uptime      string  `json:"uptime"`
	GoVersion   string  `json:"go_version"`
	Connections int     `json:"connections"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
	MemUsed     string  `json:"mem_used,omitempty"`
	MemTotal    string  `json:"mem_total,omitempty"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Uptime:      time.Since(h.started).Round(time.Second).String(),
		GoVersion:   runtime.Version(),
		Connections: h.hub.SubscriberCount(api.TopicChat),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsed = humanize.IBytes(vm.Used)
		resp.MemTotal = humanize.IBytes(vm.Total)
	}
	if percents, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("response.encode_failed", "error", err)
	}
}

func decodePayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(payload, v)
}
