package aporthttp

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Identity sources checked by AgentIDFromRequest, in order.
const (
	// HeaderAgentID is the primary identity header.
	HeaderAgentID = "X-Agent-ID"
	// HeaderAportAgentID is the alternate identity header.
	HeaderAportAgentID = "X-Aport-Agent-ID"
	// QueryAgentID is the query string parameter.
	QueryAgentID = "agent_id"
)

// maxIdentityBody caps how much of a request body is parsed for identity.
const maxIdentityBody = 1 << 20

// RequestExtractor resolves the acting agent from an HTTP request. It
// returns the identity and whether one was found.
type RequestExtractor func(r *http.Request) (string, bool)

// AgentIDFromRequest resolves the acting agent from the request, checking
// the X-Agent-ID header, the X-Aport-Agent-ID header, the agent_id query
// parameter, and finally a JSON body's agent_id or agentId field. The body
// is restored after inspection so downstream handlers can read it again.
func AgentIDFromRequest(r *http.Request) (string, bool) {
	if id := strings.TrimSpace(r.Header.Get(HeaderAgentID)); id != "" {
		return id, true
	}
	if id := strings.TrimSpace(r.Header.Get(HeaderAportAgentID)); id != "" {
		return id, true
	}
	if id := strings.TrimSpace(r.URL.Query().Get(QueryAgentID)); id != "" {
		return id, true
	}
	return agentIDFromBody(r)
}

// agentIDFromBody peeks into a JSON request body for an identity field.
func agentIDFromBody(r *http.Request) (string, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return "", false
	}
	if !isJSONRequest(r) {
		return "", false
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 || len(body) > maxIdentityBody {
		return "", false
	}

	var payload struct {
		AgentID    string `json:"agent_id"`
		AgentIDAlt string `json:"agentId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	if id := strings.TrimSpace(payload.AgentID); id != "" {
		return id, true
	}
	if id := strings.TrimSpace(payload.AgentIDAlt); id != "" {
		return id, true
	}
	return "", false
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
