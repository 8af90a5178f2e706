// Package main starts the bot API: it wires configuration, logging, the
// panel session client, the optional audit database and the HTTP router.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/GVMBot/internal/authz"
	"github.com/atinyakov/GVMBot/internal/config"
	"github.com/atinyakov/GVMBot/internal/db"
	"github.com/atinyakov/GVMBot/internal/gateway"
	"github.com/atinyakov/GVMBot/internal/logger"
	"github.com/atinyakov/GVMBot/internal/models"
	"github.com/atinyakov/GVMBot/internal/panel"
	"github.com/atinyakov/GVMBot/internal/repository"
	"github.com/atinyakov/GVMBot/internal/server/handler/http"
	"github.com/atinyakov/GVMBot/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	defer func() { _ = log.Log.Sync() }()
	if err := log.Init(options.LogLevel); err != nil {
		log.Log.Fatal("failed to init logger", zap.Error(err))
	}
	zapLogger := log.Log

	if err := options.Validate(); err != nil {
		zapLogger.Fatal("invalid configuration", zap.Error(err))
	}
	if options.AdminID == "" {
		zapLogger.Warn("no admin id configured; every privileged command will be denied")
	}

	if err := checkExposure(options.Port, options.TLSEnabled(), options.AllowInsecure, zapLogger); err != nil {
		zapLogger.Fatal("refusing to start", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Panel session client. A failed first login is not fatal: every
	// operation authenticates again.
	panelClient := panel.NewClient(options.PanelURL,
		models.Credentials{Username: options.PanelUser, Password: options.PanelPass},
		panel.WithTimeout(options.PanelTimeout),
		panel.WithLogger(zapLogger),
	)
	defer panelClient.Close()
	if err := panelClient.Authenticate(ctx); err != nil {
		zapLogger.Error("initial panel login failed", zap.Error(err))
	} else {
		zapLogger.Info("logged in to panel", zap.String("url", options.PanelURL))
	}

	// Audit trail, when a database is configured.
	var auditor gateway.Auditor
	if options.DatabaseDSN != "" {
		postgresDB, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			zapLogger.Fatal("cannot init database", zap.Error(err))
		}
		defer postgresDB.Close()

		db.StartAuditCleaner(ctx, postgresDB, time.Hour, options.AuditRetention, zapLogger)
		auditor = service.NewAuditService(repository.NewPostgresAuditRepository(postgresDB))
	} else {
		zapLogger.Info("no database configured; command audit disabled")
	}

	menus := gateway.NewMenuRegistry(options.MenuTTL, time.Now)
	gateway.StartMenuJanitor(ctx, menus, time.Minute, zapLogger)

	opts := []gateway.Option{
		gateway.WithLogger(zapLogger),
		gateway.WithMenus(menus),
		gateway.WithCreateDelay(options.CreateDelay),
		gateway.WithOwners(options.Owners),
		gateway.WithBotInfo(gateway.BotInfo{Name: "GVM VPS Bot", Version: cmp.Or(version, "1.0")}),
	}
	if auditor != nil {
		opts = append(opts, gateway.WithAuditor(auditor))
	}
	gw := gateway.New(panelClient, authz.NewAdminPolicy(options.AdminID), opts...)

	// Build the router with middleware and routes.
	router := http.NewRouter(&http.CommandHandler{Gateway: gw, Log: zapLogger}, zapLogger)

	server := &nethttp.Server{
		Addr:              options.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if options.TLSEnabled() {
		tlsConfig, err := serverTLS(options)
		if err != nil {
			zapLogger.Fatal("failed to configure TLS", zap.Error(err))
		}
		server.TLSConfig = tlsConfig
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("shutdown failed", zap.Error(err))
		}
	}()

	var err error
	if server.TLSConfig != nil {
		zapLogger.Info("starting HTTPS server", zap.String("addr", options.Port))
		err = server.ListenAndServeTLS("", "")
	} else {
		zapLogger.Info("starting HTTP server", zap.String("addr", options.Port))
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("server failed", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

// errInsecureBind is returned when plain HTTP would be reachable from other
// hosts. Without client certificates the caller headers are unauthenticated.
var errInsecureBind = errors.New("plain HTTP on a non-loopback address; configure TLS or pass -allow-insecure")

// checkExposure refuses a plain HTTP listener outside loopback unless the
// operator opted in, in which case it only warns.
func checkExposure(addr string, tlsEnabled, allowInsecure bool, log *zap.Logger) error {
	if tlsEnabled {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	if !allowInsecure {
		return fmt.Errorf("%w: %s", errInsecureBind, addr)
	}
	log.Warn("INSECURE: serving plain HTTP on a non-loopback address; anyone who can connect may set X-Caller-ID and act as any chat user, including the admin",
		zap.String("addr", addr))
	return nil
}

// serverTLS loads the server key pair and requires client certificates
// signed by the configured CA.
func serverTLS(o *config.Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(o.TLSCert, o.TLSKey)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	caCert, err := os.ReadFile(o.TLSCA)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
		return nil, errors.New("failed to append CA cert to pool")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
