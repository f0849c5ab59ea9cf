// Package setup holds the configuration and logging plumbing shared by the
// server and CLI binaries.
package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/ps"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "COMMITCATALOG"

// InitConfig points viper at cfgFile, or at ./<name>.yaml when cfgFile is
// empty, and enables COMMITCATALOG_* environment overrides.
func InitConfig(cfgFile, name string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(name)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Warning: could not read config file: %v\n", err)
		}
	}
}

func MustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}

// Logger builds a zap logger. format is "console" or "json".
func Logger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("unknown log level: %q (expected debug, info, warn, error)", level)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format: %q (expected console, json)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// OpenPersistence opens the on-disk store in baseDir, or an in-memory one
// when baseDir is empty.
func OpenPersistence(baseDir string) (*ps.Persistence, error) {
	if baseDir == "" {
		return ps.NewMemoryPersistence()
	}
	return ps.NewFilePersistence(baseDir)
}

// RemoteConfig reads the s3_* keys.
func RemoteConfig() *db.RemoteConfig {
	return &db.RemoteConfig{
		AccessKey: viper.GetString("s3_access_key"),
		SecretKey: viper.GetString("s3_secret_key"),
		Region:    viper.GetString("s3_region"),
		Endpoint:  viper.GetString("s3_endpoint"),
	}
}

// Author reads author_name and author_email.
func Author(defaultName, defaultEmail string) core.Identity {
	identity := core.Identity{
		Name:  viper.GetString("author_name"),
		Email: viper.GetString("author_email"),
	}
	if identity.Name == "" {
		identity.Name = defaultName
	}
	if identity.Email == "" {
		identity.Email = defaultEmail
	}
	return identity
}

// RestoreIfEmpty imports the archive at url into persistence when url is
// set. A store that already holds references is left alone.
func RestoreIfEmpty(ctx context.Context, persistence *ps.Persistence, url string, logger *zap.Logger) error {
	if url == "" {
		return nil
	}
	archive, err := db.Import(ctx, persistence, url, RemoteConfig())
	if errors.Is(err, core.ErrAlreadyExists) {
		logger.Info("store not empty, skipping restore", zap.String("from", url))
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore from %s: %w", url, err)
	}
	logger.Info("catalog restored",
		zap.String("from", url),
		zap.Int("references", len(archive.References)),
		zap.Int("commits", len(archive.Commits)))
	return nil
}
