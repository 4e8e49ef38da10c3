package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(transitions.WithLabelValues("release", OutcomeApplied))
	RecordTransition("release", OutcomeApplied)
	RecordTransition("release", OutcomeApplied)
	assert.Equal(t, before+2, testutil.ToFloat64(transitions.WithLabelValues("release", OutcomeApplied)))
}

func TestRecordCredits_IgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(credits.WithLabelValues("held"))
	RecordCredits("held", 500)
	RecordCredits("held", 0)
	RecordCredits("held", -3)
	assert.Equal(t, before+500, testutil.ToFloat64(credits.WithLabelValues("held")))
}

func TestRecordSchedulerTick(t *testing.T) {
	before := testutil.ToFloat64(schedulerReleased)
	RecordSchedulerTick("ok", 3, 20*time.Millisecond)
	assert.Equal(t, before+3, testutil.ToFloat64(schedulerReleased))
	assert.GreaterOrEqual(t, testutil.ToFloat64(schedulerRuns.WithLabelValues("ok")), 1.0)
}

func TestRecordNotification(t *testing.T) {
	RecordNotification("kafka", "failed")
	assert.GreaterOrEqual(t, testutil.ToFloat64(notifications.WithLabelValues("kafka", "failed")), 1.0)
}

func TestMiddlewareAndHandler(t *testing.T) {
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/v1/escrows/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/escrows/123", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.GreaterOrEqual(t,
		testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/v1/escrows/:id", "200")), 1.0)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "timebank_escrow_http_requests_total")
}
