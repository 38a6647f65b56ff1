package bridge

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/go-emby-bridge/internal/canonical"
	"github.com/opd-ai/go-emby-bridge/internal/metrics"
)

// Inventory is the normalized user and library list of the server.
type Inventory struct {
	Users     []canonical.User    `json:"users"`
	Libraries []canonical.Library `json:"libraries"`
}

// Users returns every user in canonical form.
func (b *Bridge) Users(ctx context.Context) ([]canonical.User, error) {
	raw, err := b.source.GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	users := make([]canonical.User, 0, len(raw))
	for i := range raw {
		if u, ok := canonical.NewUser(&raw[i]); ok {
			users = append(users, u)
		}
	}

	b.log(ctx).Debug("Retrieved users", "raw", len(raw), "normalized", len(users))
	return users, nil
}

// Libraries returns every library in canonical form.
func (b *Bridge) Libraries(ctx context.Context) ([]canonical.Library, error) {
	raw, err := b.source.GetLibraries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get libraries: %w", err)
	}

	libraries := make([]canonical.Library, 0, len(raw))
	for i := range raw {
		if l, ok := canonical.NewLibrary(&raw[i]); ok {
			libraries = append(libraries, l)
		}
	}

	b.log(ctx).Debug("Retrieved libraries", "raw", len(raw), "normalized", len(libraries))
	return libraries, nil
}

// SyncInventory fetches users and libraries concurrently. Either failure
// cancels the other request and fails the sync.
func (b *Bridge) SyncInventory(ctx context.Context) (*Inventory, error) {
	var inv Inventory
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		users, err := b.Users(gctx)
		inv.Users = users
		return err
	})
	g.Go(func() error {
		libraries, err := b.Libraries(gctx)
		inv.Libraries = libraries
		return err
	})

	if err := g.Wait(); err != nil {
		metrics.InventorySyncTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("inventory sync failed: %w", err)
	}

	metrics.InventorySyncTotal.WithLabelValues("ok").Inc()
	metrics.InventoryItems.WithLabelValues("users").Set(float64(len(inv.Users)))
	metrics.InventoryItems.WithLabelValues("libraries").Set(float64(len(inv.Libraries)))

	b.log(ctx).Info("Inventory synchronized",
		"users", len(inv.Users),
		"libraries", len(inv.Libraries))

	return &inv, nil
}
