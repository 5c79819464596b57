package metrics

import (
	"context"
	"net/http"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// HTTPMiddleware wraps handlers in a newrelic transaction and injects the
// application into the request context for downstream custom metrics.
func HTTPMiddleware(app *newrelic.Application) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if app == nil {
				next.ServeHTTP(w, r)
				return
			}

			txn := app.StartTransaction(r.Method + " " + r.URL.Path)
			defer txn.End()

			txn.SetWebRequestHTTP(r)
			w = txn.SetWebResponse(w)

			ctx := newrelic.NewContext(r.Context(), txn)
			ctx = context.WithValue(ctx, NewRelicContextKey{}, app)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
