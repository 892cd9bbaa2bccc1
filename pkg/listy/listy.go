package listy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/listycity/internal/adapters/metrics"
	"github.com/bft-labs/listycity/internal/app"
	"github.com/bft-labs/listycity/pkg/log"
)

// openTimeout bounds store connection setup in New.
const openTimeout = 10 * time.Second

// Listy is a synchronized city list that can be embedded in other applications.
// Use New() to create an instance, then Start() to subscribe.
type Listy struct {
	config     Config
	store      RemoteStore
	ownsStore  bool
	sync       *app.Synchronizer
	controller *app.Controller
	logger     log.Logger

	mu     sync.Mutex
	closed bool
}

// New creates a Listy instance in StateIdle.
// Unless WithStore is given the store named by cfg.Store is opened here.
func New(cfg Config, opts ...Option) (*Listy, error) {
	cfg.SetDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	owns := false
	if store == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
		defer cancel()
		s, err := OpenStore(ctx, cfg, o.logger)
		if err != nil {
			return nil, err
		}
		store, owns = s, true
	}

	fan := &eventFanout{handler: o.eventHandler}
	if o.registerer != nil {
		collector := metrics.New()
		if err := collector.Register(o.registerer); err != nil {
			if owns {
				_ = store.Close()
			}
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		fan.lifecycle = append(fan.lifecycle, collector)
		fan.sync = append(fan.sync, collector)
	}

	synchronizer := app.NewSynchronizer(app.SyncConfig{}, store, o.logger, fan, fan)
	for _, l := range o.listeners {
		synchronizer.AddListener(l)
	}
	controller := app.NewController(app.ControllerConfig{PersistEdits: cfg.PersistEdits}, synchronizer, o.notifier)

	return &Listy{
		config:     cfg,
		store:      store,
		ownsStore:  owns,
		sync:       synchronizer,
		controller: controller,
		logger:     o.logger,
	}, nil
}

// Start subscribes to the store. It returns once the subscription is
// established; snapshots are applied in the background until Stop or until
// ctx is cancelled.
func (l *Listy) Start(ctx context.Context) error {
	if l.isClosed() {
		return ErrClosed
	}
	return l.sync.Start(ctx)
}

// Stop closes the subscription. Waits up to 30 seconds for the snapshot
// consumer to exit; returns ErrShutdownTimeout if it does not.
func (l *Listy) Stop() error {
	return l.sync.Stop()
}

// Close stops the instance if it is subscribed and closes the store if New
// opened it.
func (l *Listy) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	var err error
	if l.sync.Status() == app.StateSubscribed {
		err = l.sync.Stop()
	}
	if l.ownsStore {
		if cerr := l.store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (l *Listy) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (l *Listy) Status() State {
	return convertState(l.sync.Status())
}

// Config returns the configuration after defaults were applied.
func (l *Listy) Config() Config {
	return l.config
}

// Store returns the backing store.
func (l *Listy) Store() RemoteStore {
	return l.store
}

// List returns a copy of the current list.
func (l *Listy) List() ListState {
	return l.sync.List()
}

// Records returns the current list as plain records.
func (l *Listy) Records() []Record {
	return l.sync.Records()
}

// Selection returns the current selection.
func (l *Listy) Selection() Selection {
	return l.sync.Selection()
}

// OnChange registers a listener called after every list change.
func (l *Listy) OnChange(fn ListListener) {
	l.sync.AddListener(fn)
}

// Select marks the row at index for deletion.
func (l *Listy) Select(index int) (Record, error) {
	return l.controller.Select(index)
}

// SelectForDeletion marks the first row equal to rec for deletion.
func (l *Listy) SelectForDeletion(rec Record) error {
	return l.controller.SelectForDeletion(rec)
}

// Delete removes the selected record from the store.
func (l *Listy) Delete(ctx context.Context) error {
	return l.controller.RequestDelete(ctx)
}

// Add appends rec to the list and writes it to the store.
func (l *Listy) Add(ctx context.Context, rec Record) error {
	return l.controller.RequestAdd(ctx, rec)
}

// Edit rewrites the row at index; see Config.PersistEdits.
func (l *Listy) Edit(ctx context.Context, index int, name, province string) error {
	return l.controller.RequestEdit(ctx, index, name, province)
}
