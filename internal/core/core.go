// Package core assembles the state machines and the hub into the single
// object request handlers call into.
package core

import (
	"context"

	"github.com/campuscrush/realtime/internal/archive"
	"github.com/campuscrush/realtime/internal/chat"
	"github.com/campuscrush/realtime/internal/events"
	"github.com/campuscrush/realtime/internal/match"
	"github.com/campuscrush/realtime/internal/notify"
	"github.com/campuscrush/realtime/internal/pool"
	"github.com/campuscrush/realtime/internal/reveal"
	"github.com/campuscrush/realtime/internal/store"
	"github.com/campuscrush/realtime/internal/ws"
)

// Deps are the backends the core runs on.
type Deps struct {
	Store    store.Store
	Messages archive.MessageLog
	Notices  archive.NotificationLog
	Events   events.Publisher // nil disables events
	Pool     pool.Config
}

// Core is the real-time core: one hub and the services that push through
// it.
type Core struct {
	Hub     *ws.Hub
	Notify  *notify.Service
	Chat    *chat.Service
	Matches *match.Engine
	Reveal  *reveal.Machine
	Pool    *pool.Service
}

// New wires the services around a fresh hub.
func New(d Deps) *Core {
	hub := ws.NewHub()
	notifier := notify.NewService(d.Notices, hub)
	chats := chat.NewService(d.Store, d.Messages, notifier, d.Events)
	chats.SetPusher(hub)

	return &Core{
		Hub:     hub,
		Notify:  notifier,
		Chat:    chats,
		Matches: match.NewEngine(d.Store, notifier, d.Events),
		Reveal:  reveal.NewMachine(d.Store, notifier, chats, d.Events),
		Pool:    pool.NewService(d.Store, notifier, d.Events, d.Pool),
	}
}

// Run starts background housekeeping and blocks until ctx is done.
func (c *Core) Run(ctx context.Context) {
	c.Pool.StartCleanup(ctx)
}
