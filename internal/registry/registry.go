// Package registry holds the address of the active generation backend.
//
// The address is a single mutable value. Only the configured operator may
// change it; every change is persisted before it becomes visible so that a
// restart restores the last accepted value. Reads never observe a partially
// written value.
package registry

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSuffix is the route the generation backend serves.
const DefaultSuffix = "/generate"

var updates = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "registry_updates_total",
		Help: "Endpoint registry update attempts by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(updates)
}

// Store persists the registered address. Load returns "" when nothing has
// been stored yet.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, address, updatedBy string) error
}

// Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	addr       string
	store      Store
	operatorID string
	suffix     string
	pattern    *regexp.Regexp
}

// New loads the persisted address from store. When nothing is persisted and
// bootstrap is a valid address, bootstrap becomes the in-memory value without
// being written back.
func New(ctx context.Context, store Store, operatorID, suffix, bootstrap string) (*Registry, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	r := &Registry{
		store:      store,
		operatorID: strings.TrimSpace(operatorID),
		suffix:     suffix,
		pattern:    regexp.MustCompile(`^https?://.*` + regexp.QuoteMeta(suffix) + `$`),
	}

	addr, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if addr == "" && bootstrap != "" {
		if verr := r.Validate(bootstrap); verr != nil {
			log.Warn().Str("address", bootstrap).Msg("ignoring invalid bootstrap generation endpoint")
		} else {
			addr = strings.TrimSpace(bootstrap)
		}
	}
	r.addr = addr
	return r, nil
}

// Get returns the current address and whether one is registered.
func (r *Registry) Get(ctx context.Context) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr, r.addr != ""
}

// Set replaces the address. The requester must be the operator and the
// address must pass Validate. The new value is persisted before Set returns;
// on a persistence error the previous value stays in effect.
func (r *Registry) Set(ctx context.Context, address, requester string) error {
	tr := otel.Tracer("registry/Registry")
	ctx, span := tr.Start(ctx, "Set",
		trace.WithAttributes(attribute.String("user.id", requester)),
	)
	defer span.End()

	if !r.IsOperator(requester) {
		updates.WithLabelValues("unauthorized").Inc()
		log.Warn().Str("user_id", requester).Msg("rejected endpoint update from non-operator")
		return ErrUnauthorized
	}
	address = strings.TrimSpace(address)
	if err := r.Validate(address); err != nil {
		updates.WithLabelValues("invalid").Inc()
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Save(ctx, address, requester); err != nil {
		updates.WithLabelValues("error").Inc()
		span.RecordError(err)
		return err
	}
	r.addr = address
	updates.WithLabelValues("ok").Inc()
	log.Info().Str("address", address).Msg("generation endpoint updated")
	return nil
}

// IsOperator reports whether userID is the configured operator.
func (r *Registry) IsOperator(userID string) bool {
	return r.operatorID != "" && strings.TrimSpace(userID) == r.operatorID
}

// Validate checks that address is an absolute http(s) URL with a host whose
// text ends with the route suffix.
func (r *Registry) Validate(address string) error {
	u, err := url.Parse(address)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidAddress
	}
	if !r.pattern.MatchString(address) {
		return ErrInvalidAddress
	}
	return nil
}

// Suffix returns the route suffix addresses must end with.
func (r *Registry) Suffix() string { return r.suffix }
