package demoapp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aporthq/aport-go/pkg/aport"
	"github.com/aporthq/aport-go/pkg/guard"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubVerifier returns a fixed result for every call.
type stubVerifier struct {
	result *aport.VerifyResult
	err    error
}

func (s *stubVerifier) Verify(ctx context.Context, req aport.VerifyRequest) (*aport.VerifyResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// newTestApp builds the app over the given verifier with quiet logging and a
// fixed clock.
func newTestApp(v aport.Verifier, opts ...Option) *App {
	gate := guard.New(v, guard.WithLogger(discardLogger()))
	base := []Option{
		WithLogger(discardLogger()),
		WithClock(func() time.Time { return testNow }),
	}
	return NewApp(gate, append(base, opts...)...)
}

// mockApp builds the app over the deterministic mock verifier.
func mockApp() *App {
	return newTestApp(aport.NewMock(aport.MockLatency(0), aport.MockLogger(discardLogger())))
}

// allowWithLimits builds an allow decision whose passport carries the given
// limits.
func allowWithLimits(agentID string, limits map[string]any) *aport.VerifyResult {
	return &aport.VerifyResult{
		Decision: aport.Decision{
			DecisionID:     "dec_test_0001",
			Allow:          true,
			Reasons:        []aport.Reason{},
			ExpiresIn:      60,
			CreatedAt:      testNow,
			AssuranceLevel: aport.AssuranceHigh,
		},
		Verified: true,
		Passport: &aport.Passport{
			AgentID:      agentID,
			Capabilities: []string{"refund"},
			Limits:       limits,
		},
	}
}

// doRequest sends one request through the app routes.
func doRequest(t *testing.T, app *App, method, path, agentID, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if agentID != "" {
		req.Header.Set("X-Agent-ID", agentID)
	}

	rec := httptest.NewRecorder()
	app.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestApp_Index(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, mockApp(), http.MethodGet, "/", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeBody(t, rec)
	if body["message"] != "APort demo application" {
		t.Errorf("message = %q, want banner", body["message"])
	}
	endpoints, ok := body["endpoints"].(map[string]any)
	if !ok {
		t.Fatalf("endpoints missing from banner: %v", body)
	}
	for _, route := range []string{"GET /public", "POST /refund", "GET /admin", "POST /transfer"} {
		if _, found := endpoints[route]; !found {
			t.Errorf("banner does not list %q", route)
		}
	}
}

func TestApp_Public(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, mockApp(), http.MethodGet, "/public", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	body := decodeBody(t, rec)
	if body["message"] != "This is a public endpoint" {
		t.Errorf("message = %q, want public banner", body["message"])
	}
	if body["timestamp"] != testNow.Format(time.RFC3339) {
		t.Errorf("timestamp = %q, want %q", body["timestamp"], testNow.Format(time.RFC3339))
	}
}

func TestApp_RefundAuthorized(t *testing.T) {
	t.Parallel()

	t.Run("identity from header", func(t *testing.T) {
		t.Parallel()

		rec := doRequest(t, mockApp(), http.MethodPost, "/refund", "agt_finance_bot",
			`{"amount":25.5,"order_id":"ord_1"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
		}

		var resp refundResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if !resp.Success {
			t.Error("success = false, want true")
		}
		if resp.RefundID != "refund_2550" {
			t.Errorf("refund_id = %q, want %q", resp.RefundID, "refund_2550")
		}
		if resp.AgentID != "agt_finance_bot" {
			t.Errorf("agent_id = %q, want %q", resp.AgentID, "agt_finance_bot")
		}
		if resp.OrderID != "ord_1" {
			t.Errorf("order_id = %q, want %q", resp.OrderID, "ord_1")
		}
	})

	t.Run("identity from body", func(t *testing.T) {
		t.Parallel()

		// The extractor consumes and restores the body; the handler must
		// still see the refund fields.
		rec := doRequest(t, mockApp(), http.MethodPost, "/refund", "",
			`{"agent_id":"agt_finance_bot","amount":10,"order_id":"ord_9"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
		}

		var resp refundResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.RefundID != "refund_1000" {
			t.Errorf("refund_id = %q, want %q", resp.RefundID, "refund_1000")
		}
		if resp.AgentID != "agt_finance_bot" {
			t.Errorf("agent_id = %q, want %q", resp.AgentID, "agt_finance_bot")
		}
	})
}

func TestApp_RefundDeniedAgent(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, mockApp(), http.MethodPost, "/refund", "agt_rogue_denied",
		`{"amount":25.5,"order_id":"ord_1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	body := decodeBody(t, rec)
	if body["error"] != "Verification failed" {
		t.Errorf("error = %q, want %q", body["error"], "Verification failed")
	}
	details, ok := body["details"].(map[string]any)
	if !ok {
		t.Fatalf("details missing from denial body: %v", body)
	}
	if details["agent_id"] != "agt_rogue_denied" {
		t.Errorf("details.agent_id = %q, want %q", details["agent_id"], "agt_rogue_denied")
	}
	if details["policy"] != "finance.payment.refund.v1" {
		t.Errorf("details.policy = %q, want %q", details["policy"], "finance.payment.refund.v1")
	}
}

func TestApp_RefundMissingIdentity(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, mockApp(), http.MethodPost, "/refund", "",
		`{"amount":25.5,"order_id":"ord_1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	body := decodeBody(t, rec)
	if body["error"] != "Agent ID required" {
		t.Errorf("error = %q, want %q", body["error"], "Agent ID required")
	}
}

func TestApp_RefundLimit(t *testing.T) {
	t.Parallel()

	t.Run("amount over the cap is rejected", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(&stubVerifier{result: allowWithLimits("agt_capped",
			map[string]any{"refund_amount_max_per_tx": 100.0})})

		rec := doRequest(t, app, http.MethodPost, "/refund", "agt_capped",
			`{"amount":250,"order_id":"ord_44"}`)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusForbidden, rec.Body.String())
		}

		body := decodeBody(t, rec)
		if body["error"] != "Refund amount exceeds limit" {
			t.Errorf("error = %q, want %q", body["error"], "Refund amount exceeds limit")
		}
		if body["requested"] != 250.0 {
			t.Errorf("requested = %v, want 250", body["requested"])
		}
		if body["limit"] != 100.0 {
			t.Errorf("limit = %v, want 100", body["limit"])
		}
	})

	t.Run("amount under the cap succeeds", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(&stubVerifier{result: allowWithLimits("agt_capped",
			map[string]any{"refund_amount_max_per_tx": 100.0})})

		rec := doRequest(t, app, http.MethodPost, "/refund", "agt_capped",
			`{"amount":50,"order_id":"ord_45"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
		}

		var resp refundResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		if resp.RefundID != "refund_5000" {
			t.Errorf("refund_id = %q, want %q", resp.RefundID, "refund_5000")
		}
	})

	t.Run("no cap in passport allows any amount", func(t *testing.T) {
		t.Parallel()

		app := newTestApp(&stubVerifier{result: allowWithLimits("agt_uncapped",
			map[string]any{"requests": 1000})})

		rec := doRequest(t, app, http.MethodPost, "/refund", "agt_uncapped",
			`{"amount":10000,"order_id":"ord_46"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
	})
}

func TestApp_RefundInvalidBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"malformed JSON", `{oops`},
		{"zero amount", `{"amount":0,"order_id":"ord_1"}`},
		{"negative amount", `{"amount":-5,"order_id":"ord_1"}`},
		{"missing order id", `{"amount":10}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := doRequest(t, mockApp(), http.MethodPost, "/refund", "agt_finance_bot", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestApp_AdminDashboard(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, mockApp(), http.MethodGet, "/admin", "agt_ops_admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["message"] != "Admin dashboard" {
		t.Errorf("message = %q, want %q", body["message"], "Admin dashboard")
	}
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("user missing from response: %v", body)
	}
	if user["agent_id"] != "agt_ops_admin" {
		t.Errorf("user.agent_id = %q, want %q", user["agent_id"], "agt_ops_admin")
	}
	caps, ok := user["capabilities"].([]any)
	if !ok || len(caps) != 2 {
		t.Errorf("user.capabilities = %v, want the mock passport capabilities", user["capabilities"])
	}
}

func TestApp_AdminDenied(t *testing.T) {
	t.Parallel()

	rec := doRequest(t, mockApp(), http.MethodGet, "/admin", "agt_ops_denied", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestApp_TransferGraceful(t *testing.T) {
	t.Parallel()

	t.Run("authorized agent", func(t *testing.T) {
		t.Parallel()

		rec := doRequest(t, mockApp(), http.MethodPost, "/transfer", "agt_payments_bot",
			`{"amount":10}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		body := decodeBody(t, rec)
		if body["verified"] != true {
			t.Errorf("verified = %v, want true", body["verified"])
		}
		if body["agent_id"] != "agt_payments_bot" {
			t.Errorf("agent_id = %q, want %q", body["agent_id"], "agt_payments_bot")
		}
	})

	t.Run("denied agent still reaches the handler", func(t *testing.T) {
		t.Parallel()

		rec := doRequest(t, mockApp(), http.MethodPost, "/transfer", "agt_payments_denied",
			`{"amount":10}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d (graceful route must not reject)", rec.Code, http.StatusOK)
		}

		body := decodeBody(t, rec)
		if body["verified"] != false {
			t.Errorf("verified = %v, want false", body["verified"])
		}
		errText, _ := body["verification_error"].(string)
		if !strings.Contains(errText, "denied") {
			t.Errorf("verification_error = %q, want denial detail", errText)
		}
	})

	t.Run("missing identity still reaches the handler", func(t *testing.T) {
		t.Parallel()

		rec := doRequest(t, mockApp(), http.MethodPost, "/transfer", "", `{"amount":10}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		body := decodeBody(t, rec)
		if body["verified"] != false {
			t.Errorf("verified = %v, want false", body["verified"])
		}
		if body["verification_error"] != "agent identity missing" {
			t.Errorf("verification_error = %q, want %q", body["verification_error"], "agent identity missing")
		}
	})
}
