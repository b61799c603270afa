package app

import (
	"fmt"
	"slices"

	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
	"github.com/c360/slotbus/proxy"
	"github.com/c360/slotbus/service"
)

// link is a signal to slot connection the app re-applies whenever one of its ends
// starts again
type link struct {
	signalOwner, signalKey string
	slotOwner, slotKey     string
}

func (l link) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", l.signalOwner, l.signalKey, l.slotOwner, l.slotKey)
}

func (l link) involves(id string) bool {
	return l.signalOwner == id || l.slotOwner == id
}

// Disconnect releases a connection made with Connect and forgets it, so it is
// not restored when either service starts again.
func (a *App) Disconnect(signalOwnerID, signalKey, slotOwnerID, slotKey string) {
	l := link{signalOwnerID, signalKey, slotOwnerID, slotKey}

	a.wireMu.Lock()
	a.links = slices.DeleteFunc(a.links, func(x link) bool { return x == l })
	a.wireMu.Unlock()

	_, sig, err := a.signal(signalOwnerID, signalKey)
	if err != nil {
		return
	}
	_, slot, err := a.slot(slotOwnerID, slotKey)
	if err != nil {
		return
	}
	sig.Disconnect(slot)
}

// connectLink connects l unless it is already live and hands a new connection to
// both services
func (a *App) connectLink(l link) (*dispatch.Connection, bool, error) {
	from, sig, err := a.signal(l.signalOwner, l.signalKey)
	if err != nil {
		return nil, false, err
	}
	to, slot, err := a.slot(l.slotOwner, l.slotKey)
	if err != nil {
		return nil, false, err
	}
	if c, ok := sig.Connection(slot); ok {
		return c, false, nil
	}
	c, err := sig.Connect(slot)
	if err != nil {
		return nil, false, err
	}
	from.Track(c)
	to.Track(c)
	return c, true, nil
}

// watch subscribes the app to the started signal of svc so its connections and
// proxy joins come back after a restart
func (a *App) watch(svc service.Service) error {
	a.wireMu.Lock()
	defer a.wireMu.Unlock()
	if _, ok := a.watched[svc.ID()]; ok {
		return nil
	}

	started, err := svc.Signals().Get(service.SignalStarted)
	if err != nil {
		return err
	}
	slot := dispatch.MustSlot("rewire."+svc.ID(), func() {
		if err := a.rewire(svc); err != nil {
			a.logger.Warn("restoring connections failed", "service", svc.ID(), "error", err)
		}
	})
	slot.SetWorker(a.workers.Default())
	conn, err := started.Connect(slot)
	if err != nil {
		return err
	}
	a.watched[svc.ID()] = conn
	return nil
}

func (a *App) unwatch(id string) {
	a.wireMu.Lock()
	defer a.wireMu.Unlock()
	if conn, ok := a.watched[id]; ok {
		conn.Disconnect()
		delete(a.watched, id)
	}
	a.links = slices.DeleteFunc(a.links, func(l link) bool { return l.involves(id) })
}

// running reports whether svc may be connected to a restarted service. Peers
// that are not running are wired again when they start themselves.
func running(svc service.Service) bool {
	switch svc.Status() {
	case service.StatusStarted, service.StatusSwapping:
		return true
	}
	return false
}

func (a *App) ready(id string) bool {
	svc, err := a.services.Get(id)
	return err == nil && running(svc)
}

func (a *App) readyOwner(o proxy.Owner) bool {
	svc, ok := o.(service.Service)
	return !ok || running(svc)
}

// rewire re-applies the connections and proxy joins of a started service toward
// every running peer. Live connections are left alone.
func (a *App) rewire(svc service.Service) error {
	a.wireMu.Lock()
	defer a.wireMu.Unlock()

	if !running(svc) {
		return nil
	}
	id := svc.ID()

	var errs []error
	restored := 0
	for _, l := range a.links {
		if !l.involves(id) {
			continue
		}
		peer := l.slotOwner
		if peer == id {
			peer = l.signalOwner
		}
		if !a.ready(peer) {
			continue
		}
		_, made, err := a.connectLink(l)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l, err))
			continue
		}
		if made {
			restored++
		}
	}

	conns, err := a.proxy.Reconnect(svc, a.readyOwner)
	if err != nil {
		errs = append(errs, err)
	}
	restored += len(conns)

	if restored > 0 {
		a.logger.Debug("connections restored", "service", id, "count", restored)
	}
	if err := errors.Join(errs...); err != nil {
		return errors.Wrap(err, "App", "rewire", "restore "+id)
	}
	return nil
}
