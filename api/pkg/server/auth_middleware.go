package server

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/config"
	"github.com/Nikh-on-Linux/zero-tunnel/api/pkg/system"
)

// newBasicAuthMiddleware gates the web terminal behind HTTP basic auth. It
// lets everything through when no credentials are configured.
func newBasicAuthMiddleware(cfg config.Auth) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled() {
			return next
		}
		challenge := fmt.Sprintf("Basic realm=%q, charset=\"UTF-8\"", cfg.Realm)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, password, ok := r.BasicAuth()
			if !ok || !secureEqual(user, cfg.BasicAuthUser) || !secureEqual(password, cfg.BasicAuthPassword) {
				if ok {
					log.Warn().Str("user", user).Str("remote_addr", r.RemoteAddr).Msg("rejected web terminal login")
				}
				w.Header().Set("WWW-Authenticate", challenge)
				writeErrResponse(w, system.NewHTTPError401("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func secureEqual(given, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}
