package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stashfi/savings-server/pkg/savings"
	"github.com/stashfi/savings-server/pkg/savings/common"
)

// walletHeader carries the authenticated wallet address, set by the session
// service at the edge. Session issuance itself is an external collaborator.
const walletHeader = "X-Stashfi-Wallet"

type contextKey struct{ name string }

var walletContextKey = contextKey{"wallet"}

var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "savings_http_requests_total",
		Help: "Count of HTTP requests by path and status code",
	}, []string{"path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "savings_http_request_duration_seconds",
		Help:    "HTTP request latency by path",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrumentRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		path := r.URL.Path
		requestCount.WithLabelValues(path, strconv.Itoa(recorder.status)).Inc()
		requestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

// checkOrigin rejects cross-site requests from origins outside the allow
// list. Requests without an Origin header (server-to-server, curl) pass.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || len(s.conf.AllowedOrigins) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		for _, allowed := range s.conf.AllowedOrigins {
			if origin == allowed {
				next.ServeHTTP(w, r)
				return
			}
		}

		writeError(w, savings.NewErrorWithReason(savings.ErrorOriginBlocked, nil, "origin not allowed"))
	})
}

// authenticate resolves the wallet header into a validated account and
// stashes it on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.Header.Get(walletHeader)
		if address == "" {
			writeError(w, savings.NewErrorWithReason(savings.ErrorUnauthorized, nil, "missing wallet header"))
			return
		}

		wallet, err := common.NewAccountFromPublicKeyString(address)
		if err != nil {
			writeError(w, savings.NewErrorWithReason(savings.ErrorUnauthorized, err, "invalid wallet address"))
			return
		}

		ctx := context.WithValue(r.Context(), walletContextKey, wallet)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func walletFromContext(ctx context.Context) (*common.Account, bool) {
	wallet, ok := ctx.Value(walletContextKey).(*common.Account)
	return wallet, ok
}
