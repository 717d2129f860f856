package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/example/shop-ledger/internal/security"
)

// AuditMiddleware appends one chain entry per request. Reads are audited
// alongside writes so that statement pulls are traceable too.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			start := time.Now()
			next.ServeHTTP(sw, r)
			dur := time.Since(start)

			cid := security.CorrelationIDFromContext(r.Context())
			payload := fmt.Sprintf("transport=http cid=%s ip=%s method=%s path=%s status=%d dur_ms=%d",
				cid, security.RemoteIP(r), r.Method, r.URL.Path, sw.status, dur.Milliseconds())
			a.Append(payload)
		})
	}
}
