package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sammhicks/file-sharer/internal/config"
	"github.com/sammhicks/file-sharer/internal/httpserver"
	"github.com/sammhicks/file-sharer/internal/logger"
	"github.com/sammhicks/file-sharer/internal/resource"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "passwd" {
		passwdCmd(os.Args[2:])
		return
	}

	log := logger.New(os.Stdout)

	var (
		adminAddr   = flag.String("admin-addr", "", "admin listen address (default 127.0.0.1:8000)")
		userAddr    = flag.String("user-addr", "", "user listen address (default 0.0.0.0:8080)")
		root        = flag.String("root", "", "files root (required if -config is not set)")
		stateDir    = flag.String("state", "", "state dir for shares/uploads/thumbs (default: <root>/.file-sharer)")
		externalURL = flag.String("external-url", "", "URL prefix for rendered links")
		maxUpload   = flag.Int64("max-upload", 0, "default upload size limit in bytes")
		noAdmin     = flag.Bool("no-admin", false, "do not serve the admin surface")
		cfgPath     = flag.String("config", "", "path to config json (optional)")
	)
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("read config")
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			log.Fatal().Err(err).Msg("parse config")
		}
	}
	if *root != "" {
		cfg.FilesRoot = *root
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}
	if *adminAddr != "" {
		cfg.AdminAddr = *adminAddr
	}
	if *userAddr != "" {
		cfg.UserAddr = *userAddr
	}
	if *externalURL != "" {
		cfg.ExternalURL = *externalURL
	}
	if *maxUpload > 0 {
		cfg.MaxUploadBytes = *maxUpload
	}
	if *noAdmin {
		cfg.DisableAdmin = true
	}
	if err := cfg.Normalize(); err != nil {
		log.Fatal().Err(err).Msg("bad config")
	}

	store, err := resource.New(cfg.FilesRoot, cfg.SharesDir, cfg.UploadsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("store init")
	}
	srv, err := httpserver.New(httpserver.Options{Config: cfg, Log: log, Store: store})
	if err != nil {
		log.Fatal().Err(err).Msg("server init")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 2)

	userSrv := newHTTPServer(cfg.UserAddr, srv.UserHandler())
	go func() {
		log.Info().Str("addr", cfg.UserAddr).Str("root", cfg.FilesRoot).Msg("user app listening")
		errc <- userSrv.ListenAndServe()
	}()

	var adminSrv *http.Server
	if cfg.DisableAdmin {
		log.Info().Msg("admin app disabled")
	} else {
		adminSrv = newHTTPServer(cfg.AdminAddr, srv.AdminHandler())
		go func() {
			log.Info().Str("addr", cfg.AdminAddr).Msg("admin app listening")
			errc <- adminSrv.ListenAndServe()
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen failed")
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := userSrv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("user app shutdown")
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("admin app shutdown")
		}
	}
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           withHeaders(h),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Basic hardening.
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func passwdCmd(args []string) {
	fs := flag.NewFlagSet("passwd", flag.ExitOnError)
	var (
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	_ = fs.Parse(args)
	if *password == "" {
		fmt.Fprintln(os.Stderr, "usage: file-sharer passwd -p <password>")
		os.Exit(2)
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(os.Stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		os.Exit(2)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bcrypt: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(h))
}
