package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/dailymind-app/dailymind-api/internal"
	"github.com/dailymind-app/dailymind-api/pkg/api"
	"github.com/dailymind-app/dailymind-api/pkg/repository/ledger"
	"github.com/dailymind-app/dailymind-api/pkg/service/chat"
	"github.com/dailymind-app/dailymind-api/pkg/service/gate"
	"github.com/dailymind-app/dailymind-api/pkg/service/license"
	"github.com/dailymind-app/dailymind-api/pkg/service/payment"
)

func main() {
	cfg, err := internal.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	store, err := ledger.NewSQLiteLedger(ledger.Config{
		DatabasePath:   cfg.DatabasePath,
		MigrationsPath: cfg.MigrationsPath,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	payments, err := payment.New(payment.Config{SecretKey: cfg.PaystackSecret})
	if err != nil {
		log.Fatal(err)
	}

	service := chat.NewGPTService(cfg.OpenAIKey)
	issuer := license.NewIssuer(cfg.LicenseSalt)
	gatekeeper := gate.New(store)

	handler := api.NewHandler(service, store, gatekeeper, issuer, payments, logger)
	router := handler.Router()

	serverAddr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)

	if err := http.ListenAndServe(serverAddr, router); err != nil {
		log.Fatal(err)
	}
}
