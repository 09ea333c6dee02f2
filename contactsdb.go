// Package contactsdb provides a minimal public API for embedding the
// contacts engine in a host application.
//
// Most callers only need Open: it wires the SQLite store, aggregation
// engine and write pipeline together and returns an Engine. Lower-level
// packages (internal/...) are not exported; this is the supported surface.
package contactsdb

import (
	"context"

	"github.com/steveyegge/contactsdb/internal/aggregation"
	"github.com/steveyegge/contactsdb/internal/config"
	"github.com/steveyegge/contactsdb/internal/pipeline"
	"github.com/steveyegge/contactsdb/internal/storage"
	"github.com/steveyegge/contactsdb/internal/storage/sqlite"
	"github.com/steveyegge/contactsdb/internal/syncdelta"
	"github.com/steveyegge/contactsdb/internal/transient"
	"github.com/steveyegge/contactsdb/internal/types"
)

// Core types for working with contacts.
type (
	Contact      = types.Contact
	Detail       = types.Detail
	DetailType   = types.DetailType
	SyncTarget   = types.SyncTarget
	Relationship = types.Relationship
	ChangeSet    = types.ChangeSet
)

// Sync target constants.
const (
	SyncTargetLocal     = types.SyncTargetLocal
	SyncTargetWasLocal  = types.SyncTargetWasLocal
	SyncTargetAggregate = types.SyncTargetAggregate
	SyncTargetExport    = types.SyncTargetExport
)

// Storage is the backend interface Engine is built over; exported so a
// caller can swap in a test double or an alternate backend.
type Storage = storage.Storage

// Engine bundles the storage backend with the aggregation engine, write
// pipeline and sync-delta protocol: the full set of entry points
// spec.md §4 names as components B/C/H/I (Storage), E (Aggregation), F
// (Pipeline) and G (Sync).
type Engine struct {
	Storage     Storage
	Aggregation *aggregation.Engine
	Pipeline    *pipeline.Pipeline
	Sync        *syncdelta.Syncer
}

// Close releases the underlying storage backend.
func (e *Engine) Close() error {
	return e.Storage.Close()
}

// Open opens (creating if absent) a SQLite-backed Engine at dbPath, using
// cfg for SQLite retry tuning and the aggregation attach threshold. Pass
// config.Defaults() for the engine's built-in defaults.
func Open(ctx context.Context, dbPath string, cfg config.Config) (*Engine, error) {
	store, err := sqlite.New(ctx, sqlite.Config{
		Path:            dbPath,
		BusyTimeout:     cfg.BusyTimeout,
		MaxElapsedRetry: cfg.MaxElapsedRetry,
	})
	if err != nil {
		return nil, err
	}

	agg := aggregation.New(store).WithAttachThreshold(cfg.AttachThreshold)
	pipe := pipeline.New(store, agg, pipeline.WithTransient(transient.NewMemoryStore()))
	syncer := syncdelta.New(store, agg)

	return &Engine{Storage: store, Aggregation: agg, Pipeline: pipe, Sync: syncer}, nil
}
