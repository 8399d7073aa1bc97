package middleware

import (
	"net/http"

	"github.com/castlemilk/shorted.com.au-sub003/internal/swr"
)

// RequestMemo installs a per-request memoization tier so a handler that
// resolves the same cache key more than once while rendering a single
// response only pays for it once. The memo dies with the request.
func RequestMemo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(swr.WithMemo(r.Context())))
	})
}
