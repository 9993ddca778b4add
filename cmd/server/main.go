package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/factory"
	"otp-auth-service/internal/handler"
	"otp-auth-service/internal/util"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Initialize factory (which loads config and initializes all clients)
	f, err := factory.NewFactory()
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	cfg := f.Config()
	router := setupRouter(f)

	if !cfg.Server.EnableTLS {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port),
		)
		server := newServer(cfg, cfg.GetServerAddress(), router)
		serve(server, false)
		waitForShutdown(f, server)
		return
	}

	tlsManager := f.TLSManager()
	httpsServer := newServer(cfg, fmt.Sprintf(":%d", cfg.Server.TLSPort), router)
	httpsServer.TLSConfig = tlsManager.Config()

	// Plain listener answers ACME challenges and redirects everything else.
	httpServer := newServer(cfg, cfg.GetServerAddress(), tlsManager.HTTPHandler(redirectToHTTPS(cfg.Server.TLSPort)))

	util.Info("Starting HTTPS server",
		util.String("environment", cfg.Environment),
		util.Int("port", cfg.Server.TLSPort),
		util.Bool("auto_cert", cfg.Server.AutoCert),
	)
	serve(httpsServer, true)
	serve(httpServer, false)
	waitForShutdown(f, httpsServer, httpServer)
}

func setupRouter(f *factory.Factory) http.Handler {
	cfg := f.Config()
	authHandler := handler.NewAuthHandler(f.AuthService(), f.Logger())
	return handler.NewRouter(authHandler, f, handler.RouterOptions{
		RequireTLS:     cfg.Server.EnableTLS && cfg.IsProduction(),
		AllowedOrigins: allowedOrigins(cfg),
		RequestTimeout: cfg.Server.WriteTimeout,
		TrustedProxies: cfg.Server.TrustedProxies,
	}, f.Logger())
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"http://*", "https://*"}
	}
	return []string{"https://" + cfg.Server.Domain}
}

func newServer(cfg *config.Config, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func serve(server *http.Server, useTLS bool) {
	go func() {
		var err error
		if useTLS {
			// certificates come from TLSConfig.GetCertificate
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Fatal("Server failed to start", util.String("address", server.Addr), util.ErrorField(err))
		}
	}()

	util.Info("Server started successfully",
		util.String("address", server.Addr),
		util.Bool("tls", useTLS),
	)
}

func redirectToHTTPS(tlsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}
		if tlsPort != 443 {
			host = net.JoinHostPort(host, strconv.Itoa(tlsPort))
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusMovedPermanently)
	})
}

func waitForShutdown(f *factory.Factory, servers ...*http.Server) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-signalChan
	util.Info("Received shutdown signal", util.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		} else {
			util.Info("Server shutdown completed", util.String("address", srv.Addr))
		}
	}
	f.Close()
}
