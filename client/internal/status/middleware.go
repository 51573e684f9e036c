package status

import "net/http"

// stateCSP allows nothing; the server only returns JSON and stored images.
const stateCSP = "default-src 'none'; img-src 'self'; frame-ancestors 'none'"

// securityHeaders adds the response headers every route shares.
func securityHeaders(csp string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := w.Header()

			// Clickjacking protection
			headers.Set("X-Frame-Options", "DENY")
			// Prevent MIME type sniffing, stored attachments are user supplied
			headers.Set("X-Content-Type-Options", "nosniff")
			headers.Set("Referrer-Policy", "no-referrer")
			if csp != "" {
				headers.Set("Content-Security-Policy", csp)
			}

			next.ServeHTTP(w, r)
		})
	}
}
