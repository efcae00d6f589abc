// Package integration runs the demo stack end to end: the production HTTP
// client against the local verification API, the gate and workflow engine on
// top of it, and the demo web application in front.
package integration

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/aporthq/aport-go/internal/decisionlog"
	"github.com/aporthq/aport-go/internal/mockapi"
	"github.com/aporthq/aport-go/pkg/aport"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// startVerificationAPI serves the local verification API on an ephemeral
// port and returns its base URL together with the decision log it writes,
// so tests can assert what the server recorded.
func startVerificationAPI(t testing.TB) (string, decisionlog.Store) {
	t.Helper()

	store := decisionlog.NewMemory()
	api := mockapi.NewServer(
		mockapi.WithStore(store),
		mockapi.WithLogger(testLogger()),
	)
	ts := httptest.NewServer(api.Routes())
	t.Cleanup(ts.Close)

	return ts.URL, store
}

// newRemoteVerifier builds the production HTTP client pointed at the local
// verification API.
func newRemoteVerifier(t testing.TB, baseURL string) *aport.Client {
	t.Helper()

	client, err := aport.NewClient(
		aport.WithBaseURL(baseURL),
		aport.WithAPIKey("sk_local_integration"),
		aport.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}
