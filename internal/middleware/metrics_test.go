package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type observedRequest struct {
	method string
	path   string
	status int
}

type observerStub struct {
	requests []observedRequest
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.requests = append(o.requests, observedRequest{method: method, path: path, status: status})
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/blobs/:token", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, target := range []string{"/blobs/secret-token", "/nope/secret-token"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, []observedRequest{
		{method: http.MethodGet, path: "/blobs/:token", status: http.StatusOK},
		{method: http.MethodGet, path: "unmatched", status: http.StatusNotFound},
	}, observer.requests)
}
