// Package proxy provides named channels that wire arbitrary signals to arbitrary
// slots.
//
// Every signal that joins a channel is connected to every slot that joins it, in
// both orders of arrival. Each member names an Owner, usually the service the
// signal or slot belongs to, and every connection is tracked by the owners on
// both of its ends, which release it at stop. Members stay in the channel until
// they leave; Reconnect restores the pairs of a member whose owner came back.
//
//	captured, _ := camera.Signals().Get("captured")
//	_, err := p.ConnectSignal("frames", captured, camera)
package proxy

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/c360/slotbus/dispatch"
	"github.com/c360/slotbus/errors"
)

// Owner takes responsibility for connections made on behalf of a member
type Owner interface {
	Track(conns ...*dispatch.Connection)
}

// Proxy owns a set of named channels
type Proxy struct {
	mu       sync.Mutex
	channels map[string]*channel
	logger   *slog.Logger
}

type member struct {
	signal *dispatch.Signal
	slot   *dispatch.Slot
	owner  Owner
	conns  []*dispatch.Connection
}

func (m *member) key() string {
	if m.signal != nil {
		return m.signal.Key()
	}
	return m.slot.Key()
}

func (m *member) live() int {
	n := 0
	for _, c := range m.conns {
		if !c.Expired() {
			n++
		}
	}
	return n
}

type channel struct {
	signals []*member
	slots   []*member
}

// prune forgets released connections; members stay until they leave
func (ch *channel) prune() {
	for _, members := range [][]*member{ch.signals, ch.slots} {
		for _, m := range members {
			m.conns = slices.DeleteFunc(m.conns, (*dispatch.Connection).Expired)
		}
	}
}

// ChannelInfo describes one channel
type ChannelInfo struct {
	Name        string `json:"name"`
	Signals     int    `json:"signals"`
	Slots       int    `json:"slots"`
	Connections int    `json:"connections"`
}

// New creates an empty proxy
func New(logger *slog.Logger) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proxy{
		channels: make(map[string]*channel),
		logger:   logger.With("component", "proxy"),
	}
}

func (p *Proxy) channel(name string) *channel {
	ch, ok := p.channels[name]
	if !ok {
		ch = &channel{}
		p.channels[name] = ch
	}
	ch.prune()
	return ch
}

// link connects sig to slot and hands the connection to both members and their
// owners
func link(sigMember, slotMember *member) (*dispatch.Connection, error) {
	c, err := sigMember.signal.Connect(slotMember.slot)
	if err != nil {
		return nil, err
	}
	sigMember.conns = append(sigMember.conns, c)
	slotMember.conns = append(slotMember.conns, c)
	track(sigMember.owner, c)
	if slotMember.owner != sigMember.owner {
		track(slotMember.owner, c)
	}
	return c, nil
}

func track(owner Owner, c *dispatch.Connection) {
	if owner != nil {
		owner.Track(c)
	}
}

// ConnectSignal adds sig, owned by owner, to the named channel and connects it to
// every slot already there. On a signature mismatch nothing is connected and sig
// does not join. owner may be nil.
func (p *Proxy) ConnectSignal(name string, sig *dispatch.Signal, owner Owner) ([]*dispatch.Connection, error) {
	if name == "" || sig == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: channel name and signal are required", errors.ErrConfiguration),
			"Proxy", "ConnectSignal", "check arguments")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(name)
	for _, m := range ch.signals {
		if m.signal == sig {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: signal %q in channel %q", errors.ErrAlreadyConnected, sig.Key(), name),
				"Proxy", "ConnectSignal", "join channel")
		}
	}
	for _, m := range ch.slots {
		if !sig.Signature().Accepts(m.slot.Signature()) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: signal %q does not fit slot %q in channel %q",
				errors.ErrSignatureMismatch, sig.Key(), m.slot.Key(), name), "Proxy", "ConnectSignal", "join channel")
		}
	}

	joined := &member{signal: sig, owner: owner}
	var conns []*dispatch.Connection
	for _, m := range ch.slots {
		c, err := link(joined, m)
		if err != nil {
			disconnect(conns)
			return nil, errors.Wrap(err, "Proxy", "ConnectSignal", fmt.Sprintf("connect %s to %s", sig.Key(), m.slot.Key()))
		}
		conns = append(conns, c)
	}
	ch.signals = append(ch.signals, joined)

	p.logger.Debug("signal joined channel", "channel", name, "signal", sig.Key(), "connections", len(conns))
	return conns, nil
}

// ConnectSlot adds slot, owned by owner, to the named channel and connects every
// signal already there to it. On a signature mismatch nothing is connected and
// slot does not join. owner may be nil.
func (p *Proxy) ConnectSlot(name string, slot *dispatch.Slot, owner Owner) ([]*dispatch.Connection, error) {
	if name == "" || slot == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: channel name and slot are required", errors.ErrConfiguration),
			"Proxy", "ConnectSlot", "check arguments")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(name)
	for _, m := range ch.slots {
		if m.slot == slot {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: slot %q in channel %q", errors.ErrAlreadyConnected, slot.Key(), name),
				"Proxy", "ConnectSlot", "join channel")
		}
	}
	for _, m := range ch.signals {
		if !m.signal.Signature().Accepts(slot.Signature()) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: signal %q does not fit slot %q in channel %q",
				errors.ErrSignatureMismatch, m.signal.Key(), slot.Key(), name), "Proxy", "ConnectSlot", "join channel")
		}
	}

	joined := &member{slot: slot, owner: owner}
	var conns []*dispatch.Connection
	for _, m := range ch.signals {
		c, err := link(m, joined)
		if err != nil {
			disconnect(conns)
			return nil, errors.Wrap(err, "Proxy", "ConnectSlot", fmt.Sprintf("connect %s to %s", m.signal.Key(), slot.Key()))
		}
		conns = append(conns, c)
	}
	ch.slots = append(ch.slots, joined)

	p.logger.Debug("slot joined channel", "channel", name, "slot", slot.Key(), "connections", len(conns))
	return conns, nil
}

// Reconnect connects every member owned by owner to the members across the
// channel it has no live connection with. Peers whose owner ready rejects are
// skipped; members without an owner are always ready. It returns the new
// connections.
func (p *Proxy) Reconnect(owner Owner, ready func(Owner) bool) ([]*dispatch.Connection, error) {
	if owner == nil {
		return nil, nil
	}
	peerReady := func(m *member) bool {
		return m.owner == nil || ready == nil || ready(m.owner)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var conns []*dispatch.Connection
	var errs []error
	for _, name := range p.namesLocked() {
		ch := p.channel(name)
		for _, sm := range ch.signals {
			for _, lm := range ch.slots {
				if sm.owner != owner && lm.owner != owner {
					continue
				}
				peer := lm
				if lm.owner == owner {
					peer = sm
				}
				if !peerReady(peer) {
					continue
				}
				if _, ok := sm.signal.Connection(lm.slot); ok {
					continue
				}
				c, err := link(sm, lm)
				if err != nil {
					errs = append(errs, fmt.Errorf("channel %q %s -> %s: %w", name, sm.signal.Key(), lm.slot.Key(), err))
					continue
				}
				conns = append(conns, c)
			}
		}
	}

	if len(conns) > 0 {
		p.logger.Debug("members reconnected", "connections", len(conns))
	}
	if err := errors.Join(errs...); err != nil {
		return conns, errors.Wrap(err, "Proxy", "Reconnect", "restore channel connections")
	}
	return conns, nil
}

// Leave removes every member owned by owner from every channel together with its
// connections.
func (p *Proxy) Leave(owner Owner) {
	if owner == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	owned := func(m *member) bool {
		if m.owner != owner {
			return false
		}
		disconnect(m.conns)
		return true
	}
	for name, ch := range p.channels {
		ch.signals = slices.DeleteFunc(ch.signals, owned)
		ch.slots = slices.DeleteFunc(ch.slots, owned)
		p.dropIfEmpty(name, ch)
	}
}

// DisconnectSignal removes sig from the channel together with its connections
func (p *Proxy) DisconnectSignal(name string, sig *dispatch.Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok {
		return
	}
	ch.signals = slices.DeleteFunc(ch.signals, func(m *member) bool {
		if m.signal != sig {
			return false
		}
		disconnect(m.conns)
		return true
	})
	p.dropIfEmpty(name, ch)
}

// DisconnectSlot removes slot from the channel together with its connections
func (p *Proxy) DisconnectSlot(name string, slot *dispatch.Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok {
		return
	}
	ch.slots = slices.DeleteFunc(ch.slots, func(m *member) bool {
		if m.slot != slot {
			return false
		}
		disconnect(m.conns)
		return true
	})
	p.dropIfEmpty(name, ch)
}

// Disconnect tears down the named channel
func (p *Proxy) Disconnect(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ch, ok := p.channels[name]; ok {
		closeChannel(ch)
		delete(p.channels, name)
	}
}

// DisconnectAll tears down every channel
func (p *Proxy) DisconnectAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, ch := range p.channels {
		closeChannel(ch)
		delete(p.channels, name)
	}
}

// Channels lists the channels sorted by name
func (p *Proxy) Channels() []ChannelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ChannelInfo, 0, len(p.channels))
	for _, name := range p.namesLocked() {
		ch := p.channel(name)
		info := ChannelInfo{Name: name, Signals: len(ch.signals), Slots: len(ch.slots)}
		for _, m := range ch.signals {
			info.Connections += m.live()
		}
		out = append(out, info)
	}
	return out
}

// Members lists the keys of the signals and slots in the named channel
func (p *Proxy) Members(name string) (signals, slots []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok {
		return nil, nil
	}
	for _, m := range ch.signals {
		signals = append(signals, m.key())
	}
	for _, m := range ch.slots {
		slots = append(slots, m.key())
	}
	return signals, slots
}

func (p *Proxy) namesLocked() []string {
	names := make([]string, 0, len(p.channels))
	for name := range p.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Proxy) dropIfEmpty(name string, ch *channel) {
	if len(ch.signals) == 0 && len(ch.slots) == 0 {
		delete(p.channels, name)
	}
}

func closeChannel(ch *channel) {
	for _, m := range ch.signals {
		disconnect(m.conns)
	}
	ch.signals = nil
	ch.slots = nil
}

func disconnect(conns []*dispatch.Connection) {
	for _, c := range conns {
		c.Disconnect()
	}
}
