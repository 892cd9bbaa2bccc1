package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/bft-labs/listycity/internal/domain"
	"github.com/bft-labs/listycity/internal/ports"
)

// ControllerConfig contains configuration for the controller.
type ControllerConfig struct {
	// PersistEdits makes RequestEdit write the edited record remotely.
	// By default edits are local only and the next snapshot overwrites them.
	PersistEdits bool
}

// Controller turns user intents (select, add, edit, delete) into list
// mutations and remote calls.
type Controller struct {
	config   ControllerConfig
	sync     *Synchronizer
	store    ports.RemoteStore
	notifier ports.Notifier
	logger   ports.Logger
}

// NewController creates a controller operating on sync's list and store.
// notifier may be nil.
func NewController(config ControllerConfig, sync *Synchronizer, notifier ports.Notifier) *Controller {
	if notifier == nil {
		notifier = ports.NotifierFunc(func(ports.Notice) {})
	}
	return &Controller{
		config:   config,
		sync:     sync,
		store:    sync.Store(),
		notifier: notifier,
		logger:   sync.logger,
	}
}

// Select marks the row at index for deletion, replacing any previous selection.
func (c *Controller) Select(index int) (domain.Record, error) {
	sel, err := c.sync.selectIndex(index)
	if err != nil {
		return domain.Record{}, err
	}
	return sel.Record, nil
}

// SelectForDeletion marks the first row equal to rec for deletion.
func (c *Controller) SelectForDeletion(rec domain.Record) error {
	_, err := c.sync.selectRecord(rec)
	return err
}

// RequestDelete removes the selected record from the remote store.
// The row itself disappears when the following snapshot arrives.
func (c *Controller) RequestDelete(ctx context.Context) error {
	sel := c.sync.Selection()
	if sel.Empty() {
		c.notifier.Notify(ports.Notice{
			Kind:    ports.NoticeNoSelection,
			Message: "Please select a city first",
		})
		return domain.ErrNoSelection
	}

	name := sel.Key
	if err := c.store.Delete(ctx, name); err != nil {
		err = wrapRemote(domain.ErrRemoteDelete, err)
		c.logger.Error("failed to delete city", ports.String("name", name), ports.Err(err))
		c.remoteError("delete", err)
		c.notifier.Notify(ports.Notice{
			Kind:    ports.NoticeDeleteFailed,
			Name:    name,
			Message: "Failed to delete " + name,
		})
		return err
	}

	c.logger.Debug("deleted city", ports.String("name", name))
	c.sync.clearSelectionIf(sel)
	c.notifier.Notify(ports.Notice{
		Kind:    ports.NoticeDeleted,
		Name:    name,
		Message: name + " deleted",
	})
	return nil
}

// RequestAdd appends rec to the list immediately and writes it remotely.
// A failed write is reported but the local entry stays until the next
// snapshot. Records without a name are shown locally but never written.
func (c *Controller) RequestAdd(ctx context.Context, rec domain.Record) error {
	c.sync.appendPending(rec)

	if !rec.HasName() {
		c.logger.Warn("not writing city with empty name")
		return nil
	}

	return c.write(ctx, rec)
}

// RequestEdit rewrites the row at index in place.
// Unless PersistEdits is set no remote call is made, so the next snapshot
// restores the stored values.
func (c *Controller) RequestEdit(ctx context.Context, index int, name, province string) error {
	old, err := c.sync.editAt(index, name, province)
	if err != nil {
		return err
	}
	if !c.config.PersistEdits {
		return nil
	}

	updated := domain.Record{Name: name, Province: province}
	if !updated.HasName() {
		c.logger.Warn("not writing city with empty name")
		return nil
	}
	if err := c.write(ctx, updated); err != nil {
		return err
	}
	if old.Name == updated.Name || !old.HasName() {
		return nil
	}

	// Renaming moves the document to a new key.
	if err := c.store.Delete(ctx, old.Name); err != nil {
		err = wrapRemote(domain.ErrRemoteDelete, err)
		c.logger.Error("failed to delete renamed city", ports.String("name", old.Name), ports.Err(err))
		c.remoteError("delete", err)
		c.notifier.Notify(ports.Notice{
			Kind:    ports.NoticeDeleteFailed,
			Name:    old.Name,
			Message: "Failed to delete " + old.Name,
		})
		return err
	}
	return nil
}

func (c *Controller) write(ctx context.Context, rec domain.Record) error {
	if err := c.store.Write(ctx, rec); err != nil {
		err = wrapRemote(domain.ErrRemoteWrite, err)
		c.logger.Error("failed saving city", ports.String("name", rec.Name), ports.Err(err))
		c.remoteError("write", err)
		c.notifier.Notify(ports.Notice{
			Kind:    ports.NoticeSaveFailed,
			Name:    rec.Name,
			Message: "Failed to save " + rec.Name,
		})
		return err
	}
	c.logger.Debug("city saved", ports.String("name", rec.Name))
	return nil
}

func (c *Controller) remoteError(op string, err error) {
	if c.sync.emitter != nil {
		c.sync.emitter.OnRemoteError(op, err)
	}
}

// wrapRemote makes sure err matches kind under errors.Is.
func wrapRemote(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
