package db

import (
	"time"

	"github.com/nickyhof/CommitCatalog/core"
	"go.uber.org/zap"
)

// Option configures a Catalog
type Option func(*Catalog)

// WithLogger sets the logger used for operation logs
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIdentity sets the author recorded on commits whose metadata carries none
func WithIdentity(identity core.Identity) Option {
	return func(c *Catalog) {
		c.identity = identity
	}
}

// WithClock overrides the commit timestamp source
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}
