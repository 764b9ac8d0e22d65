package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"askbounty/chain"
	answerhandlers "askbounty/handlers/answers"
	endorsementhandlers "askbounty/handlers/endorsements"
	questionhandlers "askbounty/handlers/questions"
	userhandlers "askbounty/handlers/users"
	"askbounty/influence"
	"askbounty/knowledge"
	"askbounty/logging"
	"askbounty/middleware"
	"askbounty/migration"
	"askbounty/settlement"
	"askbounty/setup"
)

func main() {
	log := logging.New("askbounty")

	cfg, err := setup.Load()
	if err != nil {
		log.WithError(err).Fatal("configuration error")
	}
	middleware.SetSessionSecret(cfg.SessionSecret)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	if err := migration.Run(db); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	ledger := chain.NewClient(cfg.ChainDaemonURL, log)
	sink := knowledge.NewClient(cfg.KnowledgeURL)
	archiver := knowledge.NewArchiver(db, sink, log)
	endorsements := influence.NewService(db, ledger, log)
	engine := settlement.NewEngine(db, ledger, archiver, log)
	scheduler := settlement.NewScheduler(engine, cfg.Economics.ScanInterval(), log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go scheduler.Start(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/v0/users/register", userhandlers.RegisterHandler(db)).Methods(http.MethodPost)
	router.HandleFunc("/v0/users/login", userhandlers.LoginHandler(db)).Methods(http.MethodPost)
	router.HandleFunc("/v0/users/wallet", userhandlers.BindWalletHandler(db)).Methods(http.MethodPost)
	router.HandleFunc("/v0/questions", questionhandlers.CreateQuestionHandler(db, cfg.Economics)).Methods(http.MethodPost)
	router.HandleFunc("/v0/questions", questionhandlers.ListQuestionsHandler(db)).Methods(http.MethodGet)
	router.HandleFunc("/v0/questions/{id}", questionhandlers.GetQuestionHandler(db)).Methods(http.MethodGet)
	router.HandleFunc("/v0/questions/{id}/answers", answerhandlers.CreateAnswerHandler(db)).Methods(http.MethodPost)
	router.HandleFunc("/v0/endorse", endorsementhandlers.EndorseHandler(db, endorsements)).Methods(http.MethodPost)

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMin)
	corsWrapper := cors.New(cors.Options{
		AllowedOrigins: []string{cfg.CORSAllowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: corsWrapper.Handler(limiter.Middleware(router)),
	}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	log.WithField("port", cfg.HTTPPort).Info("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server failed")
	}
}
