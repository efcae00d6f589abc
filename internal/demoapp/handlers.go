package demoapp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/aporthttp"
)

// handleIndex serves the service banner listing the available routes.
func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]any{
		"message": "APort demo application",
		"version": a.version,
		"endpoints": map[string]string{
			"GET /public":    "public endpoint (no verification)",
			"POST /refund":   "refund endpoint (policy finance.payment.refund.v1)",
			"GET /admin":     "admin endpoint (policy admin.access)",
			"POST /transfer": "transfer endpoint (policy payments.transfer.v1, graceful)",
		},
	})
}

// handlePublic serves the ungated endpoint.
func (a *App) handlePublic(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]any{
		"message":   "This is a public endpoint",
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

// refundRequest is the POST /refund request body.
type refundRequest struct {
	Amount  float64 `json:"amount"`
	OrderID string  `json:"order_id"`
}

// refundResponse is the POST /refund response body.
type refundResponse struct {
	Success  bool    `json:"success"`
	RefundID string  `json:"refund_id"`
	Amount   float64 `json:"amount"`
	OrderID  string  `json:"order_id"`
	AgentID  string  `json:"agent_id"`
}

// handleRefund processes a refund for a verified agent. When the agent's
// passport carries a refund_amount_max_per_tx limit, amounts above it are
// rejected; a passport without the limit is unconstrained.
func (a *App) handleRefund(w http.ResponseWriter, r *http.Request) {
	verification, ok := aporthttp.FromContext(r.Context())
	if !ok || !verification.Verified {
		// The strict middleware never lets an unverified request through;
		// reaching this branch means the route was mounted without it.
		a.respondError(w, http.StatusInternalServerError, "Verification missing",
			"route requires the verification middleware")
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "Invalid request body",
			"body must be JSON with amount and order_id")
		return
	}
	if req.Amount <= 0 || req.OrderID == "" {
		a.respondError(w, http.StatusBadRequest, "Invalid refund",
			"amount must be positive and order_id must not be empty")
		return
	}

	if limit, hasLimit := refundLimit(verification.Passport); hasLimit && req.Amount > limit {
		a.logger.Warn("refund exceeds passport limit",
			"agent_id", verification.AgentID,
			"requested", req.Amount,
			"limit", limit,
		)
		a.respondJSON(w, http.StatusForbidden, map[string]any{
			"error":     "Refund amount exceeds limit",
			"requested": req.Amount,
			"limit":     limit,
		})
		return
	}

	resp := refundResponse{
		Success:  true,
		RefundID: fmt.Sprintf("refund_%d", int(req.Amount*100)),
		Amount:   req.Amount,
		OrderID:  req.OrderID,
		AgentID:  verification.AgentID,
	}
	a.logger.Info("refund processed",
		"refund_id", resp.RefundID,
		"agent_id", resp.AgentID,
		"amount", resp.Amount,
	)
	a.respondJSON(w, http.StatusOK, resp)
}

// refundLimit extracts the numeric refund cap from the passport limits.
func refundLimit(p *aport.Passport) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p.Limits["refund_amount_max_per_tx"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// handleAdmin returns the verified agent's capability view.
func (a *App) handleAdmin(w http.ResponseWriter, r *http.Request) {
	verification, ok := aporthttp.FromContext(r.Context())
	if !ok || !verification.Verified {
		a.respondError(w, http.StatusInternalServerError, "Verification missing",
			"route requires the verification middleware")
		return
	}

	user := map[string]any{
		"agent_id":     verification.AgentID,
		"capabilities": []string{},
		"limits":       map[string]any{},
	}
	if p := verification.Passport; p != nil {
		user["capabilities"] = p.Capabilities
		user["limits"] = p.Limits
	}

	a.respondJSON(w, http.StatusOK, map[string]any{
		"message":   "Admin dashboard",
		"user":      user,
		"timestamp": a.now().UTC().Format(time.RFC3339),
	})
}

// handleTransfer runs on the graceful route: it answers 200 regardless and
// reports the verification outcome for the caller to act on.
func (a *App) handleTransfer(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"message":  "Transfer processed",
		"verified": false,
	}

	if verification, ok := aporthttp.FromContext(r.Context()); ok {
		resp["verified"] = verification.Verified
		if verification.AgentID != "" {
			resp["agent_id"] = verification.AgentID
		}
		if verification.Error != "" {
			resp["verification_error"] = verification.Error
		}
	}

	a.respondJSON(w, http.StatusOK, resp)
}
