package metrics

import (
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mantlenetworkio/arbiter/op-service/httputil"
)

// StartServer serves the registry at /metrics on host:port.
func StartServer(r *prometheus.Registry, host string, port int) (*httputil.HTTPServer, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	h := promhttp.InstrumentMetricHandler(
		r, promhttp.HandlerFor(r, promhttp.HandlerOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return httputil.StartHTTPServer(addr, mux)
}
