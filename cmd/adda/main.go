package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/tcriess/adda/api"
	"github.com/tcriess/adda/auth"
	"github.com/tcriess/adda/blobstore"
	"github.com/tcriess/adda/config"
	"github.com/tcriess/adda/globals"
	"github.com/tcriess/adda/lifecycle"
	"github.com/tcriess/adda/moderation"
	"github.com/tcriess/adda/persistence"
	"github.com/tcriess/adda/realtime"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	log.SetFlags(0)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		globals.AppLogger.Warn("could not load .env", "error", err)
	}

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	go hub.Run(ctx)

	persister, err := persistence.NewGormPersister(globalConfig, hub)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	blobs, err := blobstore.New(globalConfig.BlobConfig)
	if err != nil {
		panic(err)
	}
	defer blobs.Close()

	authenticator, err := auth.NewAuthenticator(globalConfig, persister, auth.NewLogMailer())
	if err != nil {
		panic(err)
	}
	err = authenticator.EnsureAdmins(ctx, globalConfig.AdminUsers)
	if err != nil {
		globals.AppLogger.Error("could not promote admin users", "error", err)
	}

	controller := lifecycle.NewController(persister, blobs, globalConfig.PolicyConfig)
	gate := moderation.NewGate(persister)

	janitor := lifecycle.NewJanitor(persister, blobs, globalConfig.CleanupConfig)
	err = janitor.Start()
	if err != nil {
		panic(err)
	}
	defer janitor.Stop()

	server := &http.Server{
		Addr:              globalConfig.ServerConfig.Addr,
		Handler:           api.NewServer(authenticator, controller, gate, persister, blobs, hub, globalConfig.PolicyConfig).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	globals.AppLogger.Info("listening", "addr", server.Addr)
	if *sslCert != "" && *sslKey != "" {
		err = server.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		globals.AppLogger.Error("stopped listening", "error", err)
		return
	}
	globals.AppLogger.Info("stopped")
}
