package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/order"
)

// SessionSource yields session snapshots; order.Orchestrator implements it.
type SessionSource interface {
	Sessions() []order.Session
}

// Authorizer decides who may list sessions; registry.Registry implements it.
type Authorizer interface {
	IsOperator(userID string) bool
}

// SessionService pages through order sessions for the operator.
type SessionService struct {
	Source SessionSource
	Auth   Authorizer

	// DefaultPageSize applies when the caller passes a non-positive size.
	DefaultPageSize int
}

// NewSessionService returns a service with a default page size of 20.
func NewSessionService(src SessionSource, auth Authorizer) *SessionService {
	return &SessionService{Source: src, Auth: auth, DefaultPageSize: 20}
}

var listableStates = map[order.State]struct{}{
	order.StateIdle:                 {},
	order.StateAwaitingSelection:    {},
	order.StateAwaitingDescription:  {},
	order.StateAwaitingDecision:     {},
	order.StateAwaitingPaymentProof: {},
}

// ListPage returns one page of sessions ordered by user id and the number of
// sessions matching state. An empty state matches every session.
func (s *SessionService) ListPage(ctx context.Context, requester string, state order.State, page, pageSize int) ([]order.Session, int, error) {
	_, span := otel.Tracer("services/SessionService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("session.state", string(state)),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	if s.Auth == nil || !s.Auth.IsOperator(requester) {
		return nil, 0, ErrForbidden
	}
	if state != "" {
		if _, ok := listableStates[state]; !ok {
			return nil, 0, ErrInvalidState
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.DefaultPageSize
	}

	all := s.Source.Sessions()
	matched := make([]order.Session, 0, len(all))
	for _, sess := range all {
		if state == "" || sess.State == state {
			matched = append(matched, sess)
		}
	}
	total := len(matched)

	offset := (page - 1) * pageSize
	if offset >= total {
		return []order.Session{}, total, nil
	}
	end := offset + pageSize
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}
