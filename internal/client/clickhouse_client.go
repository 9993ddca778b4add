package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"otp-auth-service/internal/config"
	"otp-auth-service/internal/util"
)

type ClickHouseClient struct {
	conn driver.Conn
}

func NewClickHouseClient(cfg *config.Config) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: extractHostname(chConfig.URL),
		}
		if chConfig.CAFile != "" {
			caCert, err := os.ReadFile(chConfig.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("failed to append ClickHouse CA cert")
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("addr", opts.Addr[0]),
		zap.String("database", chConfig.Database),
		zap.Bool("tls_enabled", opts.TLS != nil))

	return &ClickHouseClient{conn: conn}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}

// extractHostPort strips the scheme and applies the native protocol port
// (9000, or 9440 for https) when none is given.
func extractHostPort(url string) string {
	clean := strings.TrimPrefix(strings.TrimPrefix(url, "http://"), "https://")
	clean = strings.TrimSuffix(clean, "/")
	if strings.Contains(clean, ":") {
		return clean
	}
	if strings.HasPrefix(url, "https://") {
		return clean + ":9440"
	}
	return clean + ":9000"
}

func extractHostname(url string) string {
	return strings.Split(extractHostPort(url), ":")[0]
}
