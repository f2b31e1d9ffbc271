package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tbourn/go-order-bot/internal/order"
)

// ----- Fakes -----

type fakeSource []order.Session

func (f fakeSource) Sessions() []order.Session { return append([]order.Session(nil), f...) }

type operatorIs string

func (o operatorIs) IsOperator(userID string) bool { return userID != "" && userID == string(o) }

func sessionsOf(n int, state order.State) fakeSource {
	out := make(fakeSource, n)
	for i := range out {
		out[i] = order.Session{UserID: fmt.Sprintf("u%02d", i), State: state}
	}
	return out
}

// ----- Tests -----

func TestNewSessionService_Defaults(t *testing.T) {
	src := fakeSource{}
	s := NewSessionService(src, operatorIs("op"))
	if s.DefaultPageSize != 20 || s.Auth == nil || s.Source == nil {
		t.Fatalf("unexpected defaults: %+v", s)
	}
}

func TestListPage_NonOperatorForbidden(t *testing.T) {
	s := NewSessionService(sessionsOf(3, order.StateIdle), operatorIs("op"))
	for _, who := range []string{"", "u00"} {
		if _, _, err := s.ListPage(context.Background(), who, "", 1, 10); !errors.Is(err, ErrForbidden) {
			t.Fatalf("requester %q: err = %v; want ErrForbidden", who, err)
		}
	}

	s.Auth = nil
	if _, _, err := s.ListPage(context.Background(), "op", "", 1, 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("nil authorizer should deny, got %v", err)
	}
}

func TestListPage_DefaultsAndPaging(t *testing.T) {
	s := NewSessionService(sessionsOf(45, order.StateIdle), operatorIs("op"))
	ctx := context.Background()

	items, total, err := s.ListPage(ctx, "op", "", 0, 0)
	if err != nil || total != 45 || len(items) != 20 || items[0].UserID != "u00" {
		t.Fatalf("page 1 = %d items, total %d, %v", len(items), total, err)
	}

	items, _, _ = s.ListPage(ctx, "op", "", 3, 20)
	if len(items) != 5 || items[0].UserID != "u40" {
		t.Fatalf("last page = %+v", items)
	}

	items, total, err = s.ListPage(ctx, "op", "", 9, 20)
	if err != nil || total != 45 || items == nil || len(items) != 0 {
		t.Fatalf("page past the end = %v,%d,%v; want empty non-nil", items, total, err)
	}
}

func TestListPage_StateFilter(t *testing.T) {
	src := append(sessionsOf(2, order.StateIdle), order.Session{UserID: "zz", State: order.StateAwaitingPaymentProof})
	s := NewSessionService(src, operatorIs("op"))

	items, total, err := s.ListPage(context.Background(), "op", order.StateAwaitingPaymentProof, 1, 10)
	if err != nil || total != 1 || items[0].UserID != "zz" {
		t.Fatalf("filtered = %+v,%d,%v", items, total, err)
	}

	for _, bad := range []order.State{"bogus", order.StateCompleted} {
		if _, _, err := s.ListPage(context.Background(), "op", bad, 1, 10); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("state %q: err = %v; want ErrInvalidState", bad, err)
		}
	}
}
