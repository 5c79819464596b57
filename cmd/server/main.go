package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/stashfi/savings-server/pkg/config/env"
	pg "github.com/stashfi/savings-server/pkg/database/postgres"
	"github.com/stashfi/savings-server/pkg/flexlend"
	"github.com/stashfi/savings-server/pkg/jupiter"
	"github.com/stashfi/savings-server/pkg/metrics"
	"github.com/stashfi/savings-server/pkg/savings/common"
	"github.com/stashfi/savings-server/pkg/savings/data"
	"github.com/stashfi/savings-server/pkg/savings/server"
	"github.com/stashfi/savings-server/pkg/solana"
)

var (
	listenAddress = env.NewStringConfig("listen_address", ":8080")

	solanaEndpoint      = env.NewStringConfig("solana_rpc_endpoint", "https://api.mainnet-beta.solana.com")
	subsidizerKeyConfig = env.NewStringConfig("subsidizer_private_key", "")

	lendingApiBaseUrl = env.NewStringConfig("flexlend_api_base_url", flexlend.DefaultApiBaseUrl)
	swapApiBaseUrl    = env.NewStringConfig("jupiter_api_base_url", jupiter.DefaultApiBaseUrl)

	dbUser     = env.NewStringConfig("db_user", "postgres")
	dbPassword = env.NewStringConfig("db_password", "")
	dbHost     = env.NewStringConfig("db_host", "localhost")
	dbPort     = env.NewUint64Config("db_port", 5432)
	dbName     = env.NewStringConfig("db_name", "savings")

	allowedOrigins       = env.NewStringConfig("allowed_origins", "")
	treasuryTokenAccount = env.NewStringConfig("treasury_token_account", "")

	newRelicLicenseKey = env.NewStringConfig("new_relic_license_key", "")

	shutdownGracePeriod = env.NewDurationConfig("shutdown_grace_period", 15*time.Second)
)

func main() {
	ctx := context.Background()

	logrus.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.StandardLogger().WithField("type", "main")

	provider, err := data.NewDataProvider(&pg.Config{
		User:     dbUser.Get(ctx),
		Password: dbPassword.Get(ctx),
		Host:     dbHost.Get(ctx),
		Port:     int(dbPort.Get(ctx)),
		DbName:   dbName.Get(ctx),
	}, solanaEndpoint.Get(ctx))
	if err != nil {
		log.WithError(err).Fatal("failure initializing data provider")
	}

	subsidizer, err := common.NewSubsidizerFromEnvironment(
		ctx,
		solana.New(solanaEndpoint.Get(ctx)),
		subsidizerKeyConfig.Get(ctx),
	)
	if err != nil {
		log.WithError(err).Fatal("failure initializing subsidizer")
	}

	srv := server.New(
		provider,
		subsidizer,
		flexlend.NewClient(lendingApiBaseUrl.Get(ctx)),
		jupiter.NewClient(swapApiBaseUrl.Get(ctx)),
		server.Config{
			AllowedOrigins:       splitNonEmpty(allowedOrigins.Get(ctx)),
			TreasuryTokenAccount: treasuryTokenAccount.Get(ctx),
		},
	)

	router := mux.NewRouter()
	router.Use(metrics.HTTPMiddleware(newNewRelicApp(ctx, log)))
	srv.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    listenAddress.Get(ctx),
		Handler: router,
	}

	go func() {
		log.WithField("address", httpServer.Addr).Info("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server terminated unexpectedly")
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod.Get(ctx))
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("failure draining http server")
	}
}

func newNewRelicApp(ctx context.Context, log *logrus.Entry) *newrelic.Application {
	licenseKey := newRelicLicenseKey.Get(ctx)
	if len(licenseKey) == 0 {
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName("savings-server"),
		newrelic.ConfigLicense(licenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
	)
	if err != nil {
		log.WithError(err).Warn("failure initializing newrelic, continuing without it")
		return nil
	}
	return app
}

func splitNonEmpty(value string) []string {
	var res []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if len(part) > 0 {
			res = append(res, part)
		}
	}
	return res
}
