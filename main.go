package CommitCatalog

import (
	"github.com/nickyhof/CommitCatalog/core"
	"github.com/nickyhof/CommitCatalog/db"
	"github.com/nickyhof/CommitCatalog/ps"
)

// SystemIdentity authors the root commit.
var SystemIdentity = core.Identity{Name: "CommitCatalog", Email: "catalog@commitcatalog.local"}

type Instance struct {
	Persistence *ps.Persistence
	// Bootstrapped is true when Open created the root commit and main.
	Bootstrapped bool
	options      []db.Option
}

// Open prepares persistence for use, creating the root commit and the main
// branch when the store is empty. opts apply to every catalog the instance
// hands out.
func Open(persistence *ps.Persistence, opts ...db.Option) (*Instance, error) {
	_, created, err := persistence.Bootstrap(core.CommitMeta{
		Author:  SystemIdentity,
		Message: "Initialize catalog",
	})
	if err != nil {
		return nil, err
	}
	return &Instance{
		Persistence:  persistence,
		Bootstrapped: created,
		options:      opts,
	}, nil
}

func (instance *Instance) Catalog(identity core.Identity) *db.Catalog {
	opts := append([]db.Option{db.WithIdentity(identity)}, instance.options...)
	return db.NewCatalog(instance.Persistence, opts...)
}

func (instance *Instance) Session(identity core.Identity, opts ...db.SessionOption) *db.Session {
	return db.NewSession(instance.Catalog(identity), opts...)
}
