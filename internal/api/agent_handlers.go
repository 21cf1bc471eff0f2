package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/jbweber/homelab/ipamd/internal/domain"
	"github.com/jbweber/homelab/ipamd/internal/ipam"
)

// maxAgentBytes bounds an agent fact report
const maxAgentBytes = 1 << 20

// AgentStore defines the service interface for agent push handlers
type AgentStore interface {
	PushAgent(ctx context.Context, facts domain.Server) (ipam.PushResult, error)
}

// Agent accepts hardware facts pushed by collection agents
type Agent struct {
	store AgentStore
	token string
}

// NewAgent creates the agent push handler. An empty token disables pushes.
func NewAgent(store AgentStore, token string) *Agent {
	return &Agent{store: store, token: token}
}

// authorize checks the bearer token in constant time
func (a *Agent) authorize(r *http.Request) bool {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	token = strings.TrimSpace(token)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}

// PushHandler handles POST /api/v0/agent/push.
//
// Request: a flat server record authenticated with "Authorization: Bearer <token>".
// The server is matched by UUID, then hostname, and created when neither matches.
// Response: 201 Created for a new server, 200 OK for an update.
func (a *Agent) PushHandler(w http.ResponseWriter, r *http.Request) {
	if a.token == "" {
		writeError(w, http.StatusServiceUnavailable, "Agent push is disabled")
		return
	}
	if !a.authorize(r) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ipamd"`)
		writeError(w, http.StatusUnauthorized, "Invalid or missing bearer token")
		return
	}

	// agents may report more than the inventory tracks; unknown keys are ignored
	var facts domain.Server
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAgentBytes)).Decode(&facts); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	result, err := a.store.PushAgent(r.Context(), facts)
	if err != nil {
		writeServiceError(w, err, "record agent push")
		return
	}

	source, err := extractClientIP(r)
	if err != nil {
		source = r.RemoteAddr
	}
	log.Printf("agent push from %s: server %s (id=%d, created=%t)", source, result.Server.Hostname, result.Server.ID, result.Created)

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}
