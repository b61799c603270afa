package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/pkg/worker"
	"github.com/c360/slotbus/service"
)

// missingReporter is implemented by services built on service.Base
type missingReporter interface {
	MissingObjects() []string
}

// StartAll starts every stopped service in waves. Each wave holds the services
// whose required objects already resolve and starts them concurrently; outputs
// published while a wave starts can satisfy the next one. Services that never
// become startable fail with ErrMissingObject.
func (a *App) StartAll(ctx context.Context) error {
	start := time.Now()
	pending := make([]service.Service, 0, a.services.Len())
	for _, svc := range a.services.Services() {
		if svc.Status() == service.StatusStopped {
			pending = append(pending, svc)
		}
	}

	var errs []error
	for len(pending) > 0 {
		var ready, blocked []service.Service
		for _, svc := range pending {
			if svc.Status() != service.StatusStopped {
				continue
			}
			if r, ok := svc.(missingReporter); ok && len(r.MissingObjects()) > 0 {
				blocked = append(blocked, svc)
				continue
			}
			ready = append(ready, svc)
		}
		if len(ready) == 0 {
			pending = blocked
			break
		}

		if err := a.startWave(ctx, ready); err != nil {
			errs = append(errs, err)
		}
		pending = blocked
	}

	for _, svc := range pending {
		missing := svc.(missingReporter).MissingObjects()
		errs = append(errs, errors.WrapInvalid(
			fmt.Errorf("%w: service %s needs %s", errors.ErrMissingObject, svc.ID(), strings.Join(missing, ", ")),
			"App", "StartAll", "resolve objects"))
	}

	a.logger.Info("services started",
		"count", a.services.Len()-len(pending),
		"duration_ms", time.Since(start).Milliseconds(),
		"error_count", len(errs))
	return errors.Join(errs...)
}

func (a *App) startWave(ctx context.Context, wave []service.Service) error {
	tasks := make([]*worker.Task, len(wave))
	ids := make([]string, len(wave))
	for i, svc := range wave {
		tasks[i] = svc.Start(ctx)
		ids[i] = svc.ID()
	}

	a.mu.Lock()
	a.waves = append(a.waves, ids)
	a.mu.Unlock()

	var g errgroup.Group
	for i, task := range tasks {
		task := task
		id := ids[i]
		g.Go(func() error {
			if err := task.Wait(ctx); err != nil {
				a.logger.Error("service start failed", "service", id, "error", err)
				return errors.Wrap(err, "App", "StartAll", "start "+id)
			}
			a.logger.Debug("service started", "service", id)
			return nil
		})
	}
	err := g.Wait()

	// started notifications restore connections asynchronously; they are live
	// when StartAll returns
	for _, svc := range wave {
		if rerr := a.rewire(svc); rerr != nil {
			a.logger.Warn("restoring connections failed", "service", svc.ID(), "error", rerr)
		}
	}
	return err
}

// StopAll stops every service. Services started outside StartAll stop first,
// then the start waves stop in reverse order, each wave concurrently.
func (a *App) StopAll(ctx context.Context) error {
	start := time.Now()

	a.mu.Lock()
	waves := a.waves
	a.waves = nil
	a.mu.Unlock()

	known := make(map[string]bool)
	for _, wave := range waves {
		for _, id := range wave {
			known[id] = true
		}
	}
	var others []string
	for _, id := range a.services.IDs() {
		if !known[id] {
			others = append(others, id)
		}
	}
	slices.Reverse(others)

	order := append([][]string{others}, reversed(waves)...)

	var errs []error
	for _, wave := range order {
		if err := a.stopWave(ctx, wave); err != nil {
			errs = append(errs, err)
		}
	}

	a.logger.Info("services stopped",
		"duration_ms", time.Since(start).Milliseconds(),
		"error_count", len(errs))
	return errors.Join(errs...)
}

func (a *App) stopWave(ctx context.Context, ids []string) error {
	var g errgroup.Group
	for _, id := range ids {
		id := id
		svc, err := a.services.Get(id)
		if err != nil {
			continue
		}
		task := svc.Stop(ctx)
		g.Go(func() error {
			if err := task.Wait(ctx); err != nil {
				a.logger.Error("service stop failed", "service", id, "error", err)
				return errors.Wrap(err, "App", "StopAll", "stop "+id)
			}
			return nil
		})
	}
	return g.Wait()
}

func reversed(waves [][]string) [][]string {
	out := slices.Clone(waves)
	slices.Reverse(out)
	return out
}
