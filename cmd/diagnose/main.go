package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/xsamir/ProductCompare/internal/clients/paapi"
	"github.com/xsamir/ProductCompare/internal/config"
	"github.com/xsamir/ProductCompare/internal/logging"
	"github.com/xsamir/ProductCompare/internal/repository/product"
	"github.com/xsamir/ProductCompare/internal/services/ratelimit"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	keywords  string
	writeTest bool
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check database and PA-API connectivity",
	Long: `diagnose verifies an installation end to end: the database is reachable
and has the products table, PA-API credentials are present, and one signed
search request succeeds.

Examples:
  diagnose
  diagnose --keywords "usb hub"
  diagnose --write-test`,
	SilenceUsage: true,
	RunE:         runDiagnose,
}

func init() {
	rootCmd.Flags().StringVar(&keywords, "keywords", "laptop", "Keywords for the test search")
	rootCmd.Flags().BoolVar(&writeTest, "write-test", false, "Also insert and read back a test product")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time limit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDiagnose(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(config.LoggingConfig{Level: "warn", Encoding: "console"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c := &checker{
		out:      cmd.OutOrStdout(),
		paapi:    cfg.PAAPI,
		keywords: keywords,
		now:      time.Now,
	}

	if db, err := sql.Open("postgres", cfg.Postgres.DSN()); err == nil {
		defer db.Close()
		c.store = product.NewRepository(db, nil, logger)
	} else {
		logger.Warn("cannot open postgres", zap.Error(err))
	}

	gate := ratelimit.NewIntervalLimiter(cfg.PAAPI.MinRequestInterval, logger)
	if client, err := paapi.NewClient(cfg.PAAPI, paapi.NewHTTPDispatcher(cfg.PAAPI.HTTPTimeout, logger), gate, logger); err == nil {
		c.search = client
	} else {
		logger.Warn("cannot build search client", zap.Error(err))
	}

	if failed := c.run(ctx, writeTest); failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
