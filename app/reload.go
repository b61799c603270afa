package app

import (
	"context"

	"github.com/c360/slotbus/config"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/types"
)

// Reconfigure hands changed service trees to the running services. Only services
// created by this app are considered; services that are new, removed or disabled
// in cfg are reported and left alone, as are changes to workers, connections,
// proxies and bridge routes, which need a restart.
func (a *App) Reconfigure(ctx context.Context, cfg *config.Config) error {
	specs, err := cfg.ServiceSpecs()
	if err != nil {
		return err
	}

	var errs []error
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.UID == "" {
			continue
		}
		seen[spec.UID] = true
		svc, err := a.services.Get(spec.UID)
		if err != nil {
			if spec.Enabled {
				a.logger.Warn("new service needs a restart", "service", spec.UID, "type", spec.Type)
			}
			continue
		}
		if !spec.Enabled {
			a.logger.Warn("disabling a service needs a restart", "service", spec.UID)
			continue
		}
		if spec.Type != svc.Type() {
			a.logger.Warn("service type changed, restart required",
				"service", spec.UID, "from", svc.Type(), "to", spec.Type)
			continue
		}

		prev := a.tree(spec.UID)
		if prev != nil && prev.String() == spec.Tree.String() {
			continue
		}
		if err := svc.Configure(ctx, spec.Tree); err != nil {
			errs = append(errs, errors.Wrap(err, "App", "Reconfigure", "configure "+spec.UID))
			continue
		}
		a.setTree(spec.UID, spec.Tree)
		a.logger.Info("service reconfigured", "service", spec.UID, "status", svc.Status().String())
	}

	for _, id := range a.services.IDs() {
		if a.tree(id) != nil && !seen[id] {
			a.logger.Warn("service missing from configuration, restart required", "service", id)
		}
	}
	return errors.Join(errs...)
}

func (a *App) tree(id string) *types.ConfigTree {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.trees[id]
}

func (a *App) setTree(id string, tree *types.ConfigTree) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tree == nil {
		delete(a.trees, id)
		return
	}
	a.trees[id] = tree.Clone()
}
