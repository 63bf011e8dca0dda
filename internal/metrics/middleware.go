package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusHandlerHTTP returns a standard http.Handler serving the
// registered collectors in the Prometheus exposition format.
func PrometheusHandlerHTTP() http.Handler {
	return promhttp.Handler()
}

// Handler wraps PrometheusHandlerHTTP for mounting directly on a gin route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
