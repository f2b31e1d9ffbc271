package order

import (
	"sync"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// State is the position of a session in the order flow.
type State string

const (
	StateIdle                 State = "idle"
	StateAwaitingSelection    State = "awaiting_selection"
	StateAwaitingDescription  State = "awaiting_description"
	StateAwaitingDecision     State = "awaiting_decision"
	StateAwaitingPaymentProof State = "awaiting_payment_proof"
	// StateCompleted is transient: a completed session is reset to idle
	// before it is stored.
	StateCompleted State = "completed"
)

// Session is one user's order in progress.
type Session struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
	State  State  `json:"state"`

	// Category is the category whose samples were shown last.
	Category    domain.Category `json:"category,omitempty"`
	ProductID   string          `json:"selected_product,omitempty"`
	Description string          `json:"description,omitempty"`
	// PreviewCount is informational only.
	PreviewCount int       `json:"preview_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// reset returns the session to idle, keeping identity.
func (s *Session) reset() {
	*s = Session{UserID: s.UserID, ChatID: s.ChatID, State: StateIdle, UpdatedAt: time.Now().UTC()}
}

// slot guards one user's session for the whole handling of an event.
type slot struct {
	mu      sync.Mutex
	session Session
}

// sessions maps user ids to slots. Slots are created lazily and never
// removed; a completed order leaves an idle session behind.
type sessions struct {
	mu sync.Mutex
	m  map[string]*slot
}

func (ss *sessions) get(userID string) *slot {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.m == nil {
		ss.m = make(map[string]*slot)
	}
	sl, ok := ss.m[userID]
	if !ok {
		sl = &slot{session: Session{UserID: userID, State: StateIdle, UpdatedAt: time.Now().UTC()}}
		ss.m[userID] = sl
	}
	return sl
}

func (ss *sessions) lookup(userID string) (*slot, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	sl, ok := ss.m[userID]
	return sl, ok
}

func (ss *sessions) count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.m)
}

func (ss *sessions) all() []*slot {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	out := make([]*slot, 0, len(ss.m))
	for _, sl := range ss.m {
		out = append(out, sl)
	}
	return out
}
