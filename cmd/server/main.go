// Command server is the CommitCatalog TCP server: one statement per line in,
// one JSON response per line out. AUTH JWT <token> switches the commit
// author for the rest of the connection.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	CommitCatalog "github.com/nickyhof/CommitCatalog"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/duck"
	"github.com/nickyhof/CommitCatalog/internal/setup"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via -ldflags
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "commitcatalog-server",
	Short:        "Serve a versioned table catalog over TCP",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("CommitCatalog Server " + Version)
	},
}

func init() {
	cobra.OnInitialize(func() { setup.InitConfig(cfgFile, "commitcatalog") })

	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./commitcatalog.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console, json")
	flags.Int("port", 3306, "TCP port to listen on")
	flags.String("base-dir", "", "base directory for persistence (memory if empty)")
	flags.String("warehouse-dir", "", "directory for parquet snapshots (INGEST and QUERY disabled if empty)")
	flags.String("admin-addr", "", "address for /metrics and /healthz (disabled if empty)")
	flags.String("author-name", "CommitCatalog Server", "default commit author name")
	flags.String("author-email", "server@commitcatalog.local", "default commit author email")
	flags.String("jwt-secret", "", "HMAC secret; enables AUTH JWT and requires it")
	flags.String("jwt-issuer", "", "required JWT issuer")
	flags.String("jwt-audience", "", "required JWT audience")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS key file")
	flags.String("restore-from", "", "archive to import into an empty store at startup (file, http(s) or s3 URL)")
	flags.String("s3-region", "", "S3 region for EXPORT, IMPORT and --restore-from")
	flags.String("s3-endpoint", "", "custom S3 endpoint")

	setup.MustBindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	setup.MustBindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	for _, name := range []string{
		"port", "base-dir", "warehouse-dir", "admin-addr", "author-name", "author-email",
		"jwt-secret", "jwt-issuer", "jwt-audience", "tls-cert", "tls-key",
		"restore-from", "s3-region", "s3-endpoint",
	} {
		setup.MustBindPFlag(strings.ReplaceAll(name, "-", "_"), flags.Lookup(name))
	}

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	logger, err := setup.Logger(viper.GetString("log_level"), viper.GetString("log_format"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseDir := viper.GetString("base_dir")
	persistence, err := setup.OpenPersistence(baseDir)
	if err != nil {
		return fmt.Errorf("failed to initialize persistence: %w", err)
	}
	if baseDir == "" {
		logger.Info("using memory persistence")
	} else {
		logger.Info("using file persistence", zap.String("dir", baseDir))
	}

	if err := setup.RestoreIfEmpty(ctx, persistence, viper.GetString("restore_from"), logger); err != nil {
		return err
	}

	instance, err := CommitCatalog.Open(persistence, db.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	if instance.Bootstrapped {
		logger.Info("initialized empty catalog")
	}

	identity := setup.Author("CommitCatalog Server", "server@commitcatalog.local")
	opts := []Option{
		WithLogger(logger),
		WithRemoteConfig(setup.RemoteConfig()),
	}
	if secret := viper.GetString("jwt_secret"); secret != "" {
		opts = append(opts, WithAuth(&AuthConfig{
			Enabled:   true,
			JWTSecret: secret,
			Issuer:    viper.GetString("jwt_issuer"),
			Audience:  viper.GetString("jwt_audience"),
		}))
	}
	if dir := viper.GetString("warehouse_dir"); dir != "" {
		warehouse, err := duck.Open(dir, logger)
		if err != nil {
			return fmt.Errorf("failed to open warehouse: %w", err)
		}
		defer func() { _ = warehouse.Close() }()
		opts = append(opts, WithWarehouse(warehouse))
	}

	server := NewServer(instance, identity, opts...)
	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	if cert, key := viper.GetString("tls_cert"), viper.GetString("tls_key"); cert != "" && key != "" {
		err = server.StartTLS(addr, cert, key)
	} else {
		err = server.Start(addr)
	}
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		return server.Stop()
	})

	if adminAddr := viper.GetString("admin_addr"); adminAddr != "" {
		httpServer := &http.Server{
			Addr:              adminAddr,
			Handler:           adminRouter(instance.Catalog(identity), logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin listening", zap.String("addr", adminAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
