package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rollcall-dev/rollcall/internal/display"
	"github.com/rollcall-dev/rollcall/internal/token"
)

var _ display.Surface = (*Server)(nil)

// ScanData is the payload of a scan message.
type ScanData struct {
	Kind      string `json:"kind"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Column    string `json:"column,omitempty"`
	Elapsed   string `json:"elapsed,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	Online    bool   `json:"online"`
	AtRisk    bool   `json:"at_risk,omitempty"`
	Message   string `json:"message"`
}

func scanData(r token.Result) ScanData {
	d := ScanData{
		Kind:      r.Kind.String(),
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Column:    r.Column,
		Online:    r.Online,
		AtRisk:    r.AtRisk,
		Message:   r.Message(),
	}
	if r.Elapsed > 0 {
		d.Elapsed = r.Elapsed.String()
	}
	if r.Remaining > 0 {
		d.Remaining = r.Remaining.String()
	}
	return d
}

// ShowResult broadcasts a scan result. Ignored input is not sent.
func (s *Server) ShowResult(r token.Result) {
	if r.Kind == token.Ignored {
		return
	}
	s.Publish(MessageTypeScan, scanData(r))
}

// ShowStatus broadcasts the engine status.
func (s *Server) ShowStatus(st display.Status) {
	s.Publish(MessageTypeStatus, st)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.config.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.config.Status())
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.config.Resync == nil {
		http.Error(w, "resync not available", http.StatusNotImplemented)
		return
	}
	if err := s.config.Resync(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	s.Publish(MessageTypeResync, map[string]any{"requested": true})
	writeJSON(w, http.StatusAccepted, map[string]any{"requested": true})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Rollcall</title>
</head>
<body>
    <h1>Rollcall attendance</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/status">/status</a> &middot; Health: <a href="/health">/health</a></p>
    <ul id="scans"></ul>
    <script>
    const ws = new WebSocket("ws://" + location.host + "/ws");
    ws.onmessage = (ev) => {
        const msg = JSON.parse(ev.data);
        if (msg.type !== "scan") return;
        const li = document.createElement("li");
        li.textContent = msg.data.message;
        document.getElementById("scans").prepend(li);
    };
    </script>
</body>
</html>`, r.Host)
}
