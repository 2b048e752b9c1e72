package observability

import (
	"context"
	"net/http"

	"github.com/lunovey/simshop/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(serviceName, logLevel string) (func(context.Context) error, http.Handler) {
	observability.InitLogger(logLevel)
	observability.InitMetrics()
	tracerShutdown := observability.InitTracing(serviceName)
	return tracerShutdown, promhttp.Handler()
}
