package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/audiolibrelab/voicetake/internal/clipstore"
	"github.com/audiolibrelab/voicetake/internal/service"
)

// Server is the web control surface for voicetake: it renders the recorder
// status, drives the five commands, and streams finished clips as playable
// media.
type Server struct {
	service service.Service
	port    string
}

// StatusResponse represents the JSON response for the status endpoint.
type StatusResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Clip    *clipstore.Clip `json:"clip,omitempty"`
}

// ClipsResponse represents the JSON response for the clips listing.
type ClipsResponse struct {
	Clips      []clipstore.Clip `json:"clips"`
	TotalCount int              `json:"total_count"`
}

// GenericResponse represents a generic API response.
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// New creates a new control server around an existing service.
func New(svc service.Service, port string) *Server {
	return &Server{service: svc, port: port}
}

// Handler builds the route table. Split from Start so tests can drive the
// server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)
	mux.HandleFunc("/reset", s.handleReset)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/clips", s.handleClips)
	mux.HandleFunc("/clips/", s.handleClip)
	return mux
}

// Start starts the web server and blocks.
func (s *Server) Start() error {
	if ip := localIP(); ip != "" {
		slog.Info("voicetake control server listening", "url", fmt.Sprintf("http://%s:%s", ip, s.port))
	}
	return http.ListenAndServe(":"+s.port, s.Handler())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.service.Start(r.Context()); err != nil {
		// Permission refusals and acquisition failures both resolve to a
		// well-defined state; report that state rather than a server error.
		s.writeStatus(w, err.Error())
		return
	}
	s.writeStatus(w, "")
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.service.Stop)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.service.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.service.Resume)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.service.Reset)
}

func (s *Server) command(w http.ResponseWriter, r *http.Request, run func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := run(); err != nil {
		s.writeStatus(w, err.Error())
		return
	}
	s.writeStatus(w, "")
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeStatus(w, "")
}

func (s *Server) writeStatus(w http.ResponseWriter, message string) {
	resp := StatusResponse{
		Status:  string(s.service.Status()),
		Message: message,
	}
	if clip, ok := s.service.CurrentClip(); ok {
		resp.Clip = &clip
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClips(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	clips := s.service.ListClips()
	writeJSON(w, http.StatusOK, ClipsResponse{Clips: clips, TotalCount: len(clips)})
}

// handleClip streams a stored clip (GET /clips/{id}) or releases its
// reference (DELETE /clips/{id}).
func (s *Server) handleClip(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/clips/")
	if id == "" {
		http.Error(w, "clip id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		clip, ok := s.service.GetClip(id)
		if !ok {
			http.Error(w, "clip not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", clip.MIME)
		http.ServeFile(w, r, clip.Path)

	case http.MethodDelete:
		if err := s.service.ReleaseClip(id); err != nil {
			writeJSON(w, http.StatusInternalServerError, GenericResponse{Success: false, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, GenericResponse{Success: true, Message: "clip released"})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// localIP returns the machine's LAN address for the startup log line.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>voicetake</title>
<style>
body { font-family: sans-serif; max-width: 480px; margin: 2em auto; text-align: center; }
button { font-size: 1.2em; margin: 0.3em; padding: 0.6em 1.2em; }
#status { font-size: 1.4em; margin: 1em; font-weight: bold; }
audio { width: 100%; margin-top: 1em; }
</style>
</head>
<body>
<h1>🎙️ voicetake</h1>
<div id="status">...</div>
<div>
<button onclick="cmd('start')">⏺ Record</button>
<button onclick="cmd('pause')">⏸ Pause</button>
<button onclick="cmd('resume')">▶ Resume</button>
<button onclick="cmd('stop')">⏹ Stop</button>
<button onclick="cmd('reset')">↺ Reset</button>
</div>
<audio id="player" controls></audio>
<script>
async function cmd(name) {
  const res = await fetch('/' + name, {method: 'POST'});
  render(await res.json());
}
async function refresh() {
  const res = await fetch('/status');
  render(await res.json());
}
function render(state) {
  document.getElementById('status').textContent = state.status;
  const player = document.getElementById('player');
  if (state.clip) {
    const src = '/clips/' + state.clip.id;
    if (!player.src.endsWith(src)) { player.src = src; }
  } else if (player.src) {
    player.removeAttribute('src'); player.load();
  }
}
refresh();
setInterval(refresh, 1000);
</script>
</body>
</html>
`
