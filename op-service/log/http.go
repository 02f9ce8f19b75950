package log

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/arbiter/op-service/httputil"
)

// NewLoggingMiddleware logs every served request at debug level.
func NewLoggingMiddleware(lgr log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := httputil.NewWrappedResponseWriter(w)
		start := time.Now()
		next.ServeHTTP(ww, r)
		lgr.Debug(
			"served HTTP request",
			"status", ww.StatusCode,
			"response_len", ww.ResponseLen,
			"upgraded", ww.Upgraded,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"method", r.Method,
			"path", r.URL.EscapedPath(),
		)
	})
}
