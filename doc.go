// Package slotbus is a runtime for services that exchange shared data objects and
// talk to each other through typed signals and slots.
//
// # Philosophy
//
// A slotbus service never calls another service directly. It declares:
//   - the data objects it reads (Input), edits (InOut) and publishes (Output),
//     bound by id through a shared object registry
//   - the signals it emits and the slots it accepts, each with a fixed argument
//     signature checked when a connection is made
//
// Everything a service runs (lifecycle hooks, slot invocations, update
// notifications) runs on one worker goroutine, so service code needs no locking
// of its own. Services that share a worker are serialised against each other;
// services on different workers run concurrently.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            app.App                  │  Owns registries and workers,
//	│  (load, start waves, stop, close)   │  wires connections and proxies
//	└─────────────────────────────────────┘
//	           ↓ drives
//	┌─────────────────────────────────────┐
//	│          service.Base               │  State machine, bindings,
//	│ (configure, start, update, swap)    │  auto-connections, health
//	└─────────────────────────────────────┘
//	           ↓ built on
//	┌──────────────┬──────────────┬───────────────┐
//	│  dispatch    │  objects     │  pkg/worker   │
//	│ signals,     │ id → object  │ FIFO task     │
//	│ slots        │ registry     │ queues        │
//	└──────────────┴──────────────┴───────────────┘
//
// # Lifecycle
//
//	Stopped ──Start──▶ Starting ──▶ Started ──Stop──▶ Stopping ──▶ Stopped
//	                                   │  ▲
//	                          SwapKey  ▼  │
//	                                 Swapping
//
// A service starts only when every required Input and InOut object resolves in
// the registry. Output objects are published while the service starts, so
// app.App.StartAll starts services in waves: producers first, then the
// consumers their outputs unblock.
//
// # Patterns
//
// Auto-connection: an Input bound with auto-connect has its object's modified
// signal wired to the service's update slot while the service runs. Changing the
// object updates every consumer on its own worker.
//
//	┌────────┐  value (data.Value[int])  ┌─────────┐
//	│ ticker │ ────── modified ────────▶ │ printer │
//	└────────┘                           └─────────┘
//
// Proxy channel: a named channel connects every joined signal to every joined
// slot, so producers and consumers do not need to know each other.
//
//	  ticker.ticked ──┐                ┌──▶ printer.update
//	                  ├── "ticks" ─────┤
//	   relay.ticked ──┘                └──▶ audit.record
//
// Bridge: natsbridge extends a proxy channel across processes by publishing
// signal emissions on NATS subjects and re-emitting them on the other side.
//
// # Configuration
//
// A host is described by one YAML or JSON file (see package config). Each
// service entry is kept as an ordered configuration tree:
//
//	services:
//	  - uid: printer
//	    type: printer
//	    worker: io
//	    in: {key: value, uid: clock/value, auto_connect: true}
//
// The cmd/slotbus binary loads such a file, runs the services it names and serves
// Prometheus metrics and an aggregated /health endpoint.
package slotbus
