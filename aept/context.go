// Package aept is the public API of the aept package manager: the
// operations a CLI (or any other caller) drives against a loaded Config,
// with lock acquisition folded into each mutating call instead of the
// process-wide activate/deactivate stack the original implementation used.
package aept

import (
	"fmt"
	"net/http"

	"github.com/aept-project/aept/internal/aeptlog"
	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/statusstore"
	"github.com/aept-project/aept/internal/transaction"
)

// TransactionSummary is re-exported so callers never need to import
// internal/transaction directly to read a plan's counts.
type TransactionSummary = transaction.Summary

// Step is re-exported for the same reason — a caller rendering a plan
// needs the concrete step kinds without reaching into internal/.
type Step = transaction.Step

// Context holds everything one aept invocation needs: the loaded config,
// a logger, a confirmation callback for plans that exceed what was
// explicitly requested, and (once acquired) the process lock.
type Context struct {
	Config  *config.Config
	Log     *aeptlog.Logger
	Confirm func(summary TransactionSummary) bool

	Client *http.Client

	store *statusstore.Store
	auto  *auxstore.AutoSet
	pins  *auxstore.PinSet
	lock  *config.Lock
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithLogger overrides the default silent logger.
func WithLogger(l *aeptlog.Logger) Option { return func(c *Context) { c.Log = l } }

// WithConfirm installs the plan-confirmation callback; without one, every
// plan proceeds without asking.
func WithConfirm(f func(summary TransactionSummary) bool) Option {
	return func(c *Context) { c.Confirm = f }
}

// WithClient overrides the default http.Client (e.g. for a test server).
func WithClient(client *http.Client) Option { return func(c *Context) { c.Client = client } }

// New loads the filesystem stores (status, auto-installed set, pins) for
// cfg and returns a ready Context. It does not acquire the process lock —
// that happens per mutating operation, inside withLock.
func New(cfg *config.Config, opts ...Option) (*Context, error) {
	store, err := statusstore.Load(cfg.StatusFile)
	if err != nil {
		return nil, fmt.Errorf("aept: load status: %w", err)
	}
	auto, err := auxstore.LoadAutoSet(cfg.AutoFile)
	if err != nil {
		return nil, fmt.Errorf("aept: load auto set: %w", err)
	}
	pins, err := auxstore.LoadPinSet(cfg.PinFile)
	if err != nil {
		return nil, fmt.Errorf("aept: load pin set: %w", err)
	}

	c := &Context{
		Config: cfg,
		Log:    aeptlog.Default(),
		Client: http.DefaultClient,
		store:  store,
		auto:   auto,
		pins:   pins,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the process lock if this Context is holding it.
func (c *Context) Close() error {
	if c.lock == nil {
		return nil
	}
	err := c.lock.Unlock()
	c.lock = nil
	return err
}

// withLock acquires the process lock for the duration of f: mutating
// operations exclude other aept instances; read-only queries never call
// this.
func (c *Context) withLock(f func() error) error {
	if c.lock != nil {
		return f()
	}
	l, err := c.Config.Lock()
	if err != nil {
		return err
	}
	defer func() {
		l.Unlock()
	}()
	c.lock = l
	defer func() { c.lock = nil }()
	return f()
}

func (c *Context) driver() *transaction.Driver {
	return &transaction.Driver{
		Config: c.Config,
		Store:  c.store,
		Auto:   c.auto,
		Pins:   c.pins,
		Client: c.Client,
		Log:    transaction.Logf(c.Log.Warnf),
		Confirm: func(steps []Step, summary TransactionSummary) bool {
			if c.Confirm == nil {
				return true
			}
			return c.Confirm(summary)
		},
	}
}
