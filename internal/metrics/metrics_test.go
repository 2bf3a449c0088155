package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMiddleware_RecordsStatus(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/brew", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, scrape(t), `flyexit_http_requests_total{method="GET",path="/brew",status="418"} 1`)
}

func TestHandler_ExposesExitMetrics(t *testing.T) {
	ExitAttemptsTotal.WithLabelValues("success").Inc()
	SpreadSlippage.Observe(0.004)

	body := scrape(t)
	assert.Contains(t, body, "flyexit_exit_attempts_total")
	assert.Contains(t, body, "flyexit_spread_slippage_ratio_bucket")
}
