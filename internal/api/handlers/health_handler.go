package handlers

import "net/http"

type HealthResponse struct {
	Status        string `json:"status"`
	LedgerBackend string `json:"ledger_backend"`
}

// Health handles GET /health. A degraded service still answers 200: it
// takes orders at full price.
func Health(backend string, degraded func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if degraded() {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: status, LedgerBackend: backend})
	}
}
