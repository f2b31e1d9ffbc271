package handlers

import (
	"context"

	"github.com/tbourn/go-order-bot/internal/chat"
	"github.com/tbourn/go-order-bot/internal/order"
)

// EndpointRegistry is the slice of registry.Registry the admin API needs.
type EndpointRegistry interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, address, requester string) error
	Suffix() string
	IsOperator(userID string) bool
}

// EventSubmitter accepts inbound events; chat.Dispatcher implements it.
type EventSubmitter interface {
	Submit(ctx context.Context, ev chat.Event) error
}

// SessionReader exposes read-only session snapshots; order.Orchestrator
// implements it.
type SessionReader interface {
	Session(userID string) (order.Session, bool)
	Sessions() []order.Session
}

// SessionLister pages sessions for the operator; services.SessionService
// implements it.
type SessionLister interface {
	ListPage(ctx context.Context, requester string, state order.State, page, pageSize int) ([]order.Session, int, error)
}

// Handlers groups the admin and intake endpoints.
type Handlers struct {
	registry EndpointRegistry
	events   EventSubmitter
	sessions SessionReader
	lister   SessionLister
}

// New returns Handlers bound to the given collaborators.
func New(registry EndpointRegistry, events EventSubmitter, sessions SessionReader, lister SessionLister) *Handlers {
	return &Handlers{registry: registry, events: events, sessions: sessions, lister: lister}
}
