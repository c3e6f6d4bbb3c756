package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kevinaaaquil/bookswap/config"
	"github.com/kevinaaaquil/bookswap/handlers"
	"github.com/kevinaaaquil/bookswap/service"
	"github.com/kevinaaaquil/bookswap/store"
	"github.com/kevinaaaquil/bookswap/utils"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}
	config.ValidateEnv(cfg.StoreDriver)
	logger := utils.NewLogger()

	ctx := context.Background()
	db, closeDB, err := store.Open(ctx, cfg.StoreDriver, cfg.MongoURI, cfg.DBName, cfg.MongoTransactions)
	if err != nil {
		log.Fatal("store:", err)
	}
	defer func() {
		if err := closeDB(context.Background()); err != nil {
			log.Println("store close:", err)
		}
	}()
	if cfg.StoreDriver == config.DriverMemory {
		log.Println("warning: STORE_DRIVER=memory; data is lost on restart")
	}

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		seeded, err := service.EnsureAdmin(ctx, db, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			log.Fatal("admin seed:", err)
		}
		if seeded {
			log.Printf("admin account %s ready", cfg.AdminEmail)
		}
	}

	var images service.ImageStore
	if cfg.S3Bucket != "" {
		s3Service, err := service.NewS3Service(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKeyID, cfg.S3SecretKey)
		if err != nil {
			log.Fatal("s3:", err)
		}
		images = s3Service
	} else {
		log.Println("warning: AWS_S3_BUCKET not set; cover uploads are disabled")
	}

	var mailer service.Mailer = service.LogMailer{Log: logger}
	if cfg.SMTPEnabled() {
		mailer = &service.SMTPMailer{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		}
	}
	notifier := service.NewNotifier(mailer, db, logger)

	router := handlers.NewRouter(handlers.RouterConfig{
		DB:           db,
		Swaps:        service.NewSwapService(db, notifier, logger, cfg.SwapTTL),
		Reviews:      service.NewReviewService(db, logger),
		Metadata:     service.NewGoogleBooks(),
		Images:       images,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.JWTTTL,
		MaxUploadMB:  cfg.MaxUploadMB,
		SecureCookie: cfg.StoreDriver == config.DriverMongo,
		CORSOrigins:  cfg.CORSOrigins,
	})

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Println("server listening on :" + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println("shutdown:", err)
	}
}
