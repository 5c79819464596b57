package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/flexlend"
	"github.com/stashfi/savings-server/pkg/jupiter"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/savings/pipeline"
	"github.com/stashfi/savings-server/pkg/savings/reconciliation"
	"github.com/stashfi/savings-server/pkg/savings/transaction"
)

// Config carries the request-boundary policy knobs.
type Config struct {
	// AllowedOrigins is the set of origins permitted to call the API. Empty
	// disables the origin check (same-site deployments).
	AllowedOrigins []string

	// TreasuryTokenAccount is the base58 settlement token account fees are
	// skimmed into. Defaults to the subsidizer's associated token account.
	TreasuryTokenAccount string
}

type Server struct {
	log  *logrus.Entry
	conf Config

	data       data.Provider
	subsidizer *common.Subsidizer
	lender     *flexlend.Client
	swapper    *jupiter.Client

	resolver   *transaction.Resolver
	composer   *transaction.Composer
	pipeline   *pipeline.Pipeline
	reconciler *reconciliation.Engine
}

func New(
	provider data.Provider,
	subsidizer *common.Subsidizer,
	lender *flexlend.Client,
	swapper *jupiter.Client,
	conf Config,
) *Server {
	return &Server{
		log:  logrus.StandardLogger().WithField("type", "server"),
		conf: conf,

		data:       provider,
		subsidizer: subsidizer,
		lender:     lender,
		swapper:    swapper,

		resolver:   transaction.NewResolver(provider),
		composer:   transaction.NewComposer(provider),
		pipeline:   pipeline.New(provider, subsidizer),
		reconciler: reconciliation.New(provider),
	}
}

// RegisterRoutes mounts the API on the provided router. Authenticated routes
// sit behind the wallet and origin middleware; health and metrics do not.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", s.getHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/v1/savings").Subrouter()
	api.Use(instrumentRequests)
	api.Use(s.checkOrigin)
	api.Use(s.authenticate)

	api.HandleFunc("/rates", s.getRates).Methods(http.MethodGet)
	api.HandleFunc("/{accountType}/summary", s.getSummary).Methods(http.MethodGet)
	api.HandleFunc("/{accountType}/deposit/build", s.buildDeposit).Methods(http.MethodPost)
	api.HandleFunc("/{accountType}/withdraw/build", s.buildWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/{accountType}/send", s.send).Methods(http.MethodPost)
}

func (s *Server) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
