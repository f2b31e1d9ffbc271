// Package order drives each user's order through its states: category
// samples, product choice, description, previews, payment, final delivery.
//
// The Orchestrator is the only writer of sessions. It holds a per-user lock
// for the whole handling of an event, so a user's events are applied one at a
// time no matter which transport delivered them. Failures of the generation
// backend, the payment check or an illegal event are answered with a message
// and leave the session as it was. A failed ledger append is escalated to the
// operator and returned to the caller.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-order-bot/internal/chat"
	"github.com/tbourn/go-order-bot/internal/domain"
	"github.com/tbourn/go-order-bot/internal/events"
	"github.com/tbourn/go-order-bot/internal/generation"
	"github.com/tbourn/go-order-bot/internal/ledger"
	"github.com/tbourn/go-order-bot/internal/payment"
	"github.com/tbourn/go-order-bot/internal/registry"
)

// DefaultMaxDescriptionRunes caps a description.
const DefaultMaxDescriptionRunes = 2000

var (
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order events by resulting outcome.",
		},
		[]string{"outcome"},
	)
	completed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Orders paid, delivered and recorded.",
	})
	revenue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_revenue_total",
			Help: "Recorded amounts in the smallest currency unit by product.",
		},
		[]string{"product"},
	)
)

func init() {
	prometheus.MustRegister(transitions, completed, revenue)
}

// Generator renders images.
type Generator interface {
	Generate(ctx context.Context, description, productID string, mode domain.Mode) ([]byte, error)
}

// EndpointRegistry is the operator-facing side of the endpoint registry.
type EndpointRegistry interface {
	Set(ctx context.Context, address, requester string) error
	IsOperator(userID string) bool
	Suffix() string
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Catalog   *domain.Catalog
	Generator Generator
	Registry  EndpointRegistry
	Ledger    ledger.Ledger
	Verifier  payment.Verifier
	Messenger chat.Messenger
	// Publisher is optional.
	Publisher events.Publisher

	// OperatorChatID receives transaction notices and ledger alerts.
	OperatorChatID string
	PaymentAddress string

	MaxDescriptionRunes int
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	d        Deps
	sessions sessions
}

// New returns an Orchestrator. Catalog defaults to domain.DefaultCatalog,
// Verifier to payment.AlwaysValid and Publisher to events.Noop.
func New(d Deps) *Orchestrator {
	if d.Catalog == nil {
		d.Catalog = domain.DefaultCatalog()
	}
	if d.Verifier == nil {
		d.Verifier = payment.AlwaysValid{}
	}
	if d.Publisher == nil {
		d.Publisher = events.Noop{}
	}
	if d.MaxDescriptionRunes <= 0 {
		d.MaxDescriptionRunes = DefaultMaxDescriptionRunes
	}
	return &Orchestrator{d: d}
}

// Session returns a copy of the user's session.
func (o *Orchestrator) Session(userID string) (Session, bool) {
	sl, ok := o.sessions.lookup(userID)
	if !ok {
		return Session{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.session, true
}

// Sessions returns copies of every known session ordered by user id. A
// session whose event is still being handled is read once that event
// finishes.
func (o *Orchestrator) Sessions() []Session {
	slots := o.sessions.all()
	out := make([]Session, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		out = append(out, sl.session)
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// SessionCount returns the number of known users.
func (o *Orchestrator) SessionCount() int { return o.sessions.count() }

// Handle applies ev to its user's session. It returns an error only for
// conditions that need escalation beyond the user: a failed ledger append or
// a failure to deliver the paid artifact.
func (o *Orchestrator) Handle(ctx context.Context, ev chat.Event) error {
	tr := otel.Tracer("order/Orchestrator")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.String("user.id", ev.UserID),
			attribute.String("event.type", string(ev.Type)),
		),
	)
	defer span.End()

	if strings.TrimSpace(ev.UserID) == "" {
		return fmt.Errorf("order: event without user id")
	}

	sl := o.sessions.get(ev.UserID)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	// Work on a copy; it replaces the stored session only on success.
	s := sl.session
	if ev.ChatID != "" {
		s.ChatID = ev.ChatID
	}
	if s.ChatID == "" {
		s.ChatID = ev.UserID
	}
	from := s.State

	outcome, err := o.dispatch(ctx, &s, ev)
	transitions.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("order.outcome", outcome),
		attribute.String("order.state.from", string(from)),
	)

	switch {
	case err == nil:
		s.UpdatedAt = time.Now().UTC()
		sl.session = s
		if from != s.State {
			log.Debug().Str("user_id", ev.UserID).Str("from", string(from)).Str("to", string(s.State)).Msg("order state changed")
		}
		return nil
	case errors.Is(err, ErrIllegalTransition):
		o.reply(ctx, s.ChatID, hint(from), nil)
		return nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return err
	}
}

// dispatch routes ev to exactly one transition. It returns a short outcome
// label for metrics. An ErrIllegalTransition result is answered by Handle; all
// other user-facing failures are answered here and reported as nil so the
// unchanged copy is stored back.
func (o *Orchestrator) dispatch(ctx context.Context, s *Session, ev chat.Event) (string, error) {
	switch ev.Type {
	case chat.EventCommand:
		return o.onCommand(ctx, s, ev)

	case chat.EventCallback:
		data := strings.TrimSpace(ev.Data)
		switch {
		case o.d.Catalog.HasCategory(domain.Category(data)):
			return o.onCategory(ctx, s, domain.Category(data))
		case strings.HasPrefix(data, tokenSelectPrefix):
			return o.onProduct(ctx, s, strings.TrimPrefix(data, tokenSelectPrefix))
		case data == tokenRegenerate:
			return o.onRegenerate(ctx, s)
		case data == tokenDone:
			return o.onDone(ctx, s)
		}
		return "illegal", ErrIllegalTransition

	case chat.EventText:
		text := strings.TrimSpace(ev.Text)
		if s.State != StateAwaitingDescription {
			if looksLikeURL(text) {
				// A URL outside description capture is an endpoint update
				// attempt. While a description is awaited it is the
				// description, even from the operator; /endpoint still works.
				return o.onEndpoint(ctx, s, ev.UserID, text)
			}
			return "illegal", ErrIllegalTransition
		}
		return o.onDescription(ctx, s, text)

	case chat.EventPhoto:
		if s.State != StateAwaitingPaymentProof {
			return "illegal", ErrIllegalTransition
		}
		return o.onProof(ctx, s, ev.ProofRef)
	}
	return "illegal", ErrIllegalTransition
}

func (o *Orchestrator) onCommand(ctx context.Context, s *Session, ev chat.Event) (string, error) {
	switch ev.Command {
	case "start":
		s.reset()
		o.reply(ctx, s.ChatID, msgWelcome, categoryMenu(o.d.Catalog))
		return "start", nil
	case "endpoint":
		return o.onEndpoint(ctx, s, ev.UserID, ev.Args)
	}
	o.reply(ctx, s.ChatID, msgUnknownCommand, nil)
	return "unknown_command", nil
}

func (o *Orchestrator) onEndpoint(ctx context.Context, s *Session, requester, addr string) (string, error) {
	if o.d.Registry == nil {
		return "illegal", ErrIllegalTransition
	}
	err := o.d.Registry.Set(ctx, addr, requester)
	switch {
	case err == nil:
		o.reply(ctx, s.ChatID, endpointUpdated(strings.TrimSpace(addr)), nil)
		return "endpoint_set", nil
	case errors.Is(err, registry.ErrUnauthorized):
		o.reply(ctx, s.ChatID, msgUnauthorized, nil)
		return "unauthorized", nil
	case errors.Is(err, registry.ErrInvalidAddress):
		o.reply(ctx, s.ChatID, endpointInvalid(o.d.Registry.Suffix()), nil)
		return "invalid_address", nil
	default:
		log.Error().Err(err).Msg("endpoint update failed")
		o.reply(ctx, s.ChatID, "Could not save the endpoint. Please try again.", nil)
		return "endpoint_error", nil
	}
}

// onCategory sends one generated sample per product of cat, then the
// product menu. Any generation failure aborts and keeps the old state.
func (o *Orchestrator) onCategory(ctx context.Context, s *Session, cat domain.Category) (string, error) {
	products := o.d.Catalog.Products(cat)
	for _, p := range products {
		img, err := o.d.Generator.Generate(ctx, p.Label, p.ID, domain.ModePreview)
		if err != nil {
			return o.generationFailed(ctx, s, err), nil
		}
		o.sendImage(ctx, s.ChatID, img, sampleCaption(p), nil)
	}
	o.reply(ctx, s.ChatID, msgSelectProduct, productMenu(products))

	next := Session{UserID: s.UserID, ChatID: s.ChatID, State: StateAwaitingSelection, Category: cat}
	*s = next
	return "category", nil
}

func (o *Orchestrator) onProduct(ctx context.Context, s *Session, productID string) (string, error) {
	if s.State != StateAwaitingSelection {
		return "illegal", ErrIllegalTransition
	}
	p, ok := o.d.Catalog.Product(productID)
	if !ok || p.Category != s.Category {
		return "illegal", ErrIllegalTransition
	}
	s.ProductID = p.ID
	s.Description = ""
	s.PreviewCount = 0
	s.State = StateAwaitingDescription
	o.reply(ctx, s.ChatID, descriptionPrompt(p), nil)
	return "product", nil
}

func (o *Orchestrator) onDescription(ctx context.Context, s *Session, text string) (string, error) {
	if s.ProductID == "" {
		return "illegal", ErrIllegalTransition
	}
	if text == "" {
		o.reply(ctx, s.ChatID, msgEmptyDesc, nil)
		return "empty_description", nil
	}
	if utf8.RuneCountInString(text) > o.d.MaxDescriptionRunes {
		o.reply(ctx, s.ChatID, msgDescTooLong, nil)
		return "description_too_long", nil
	}

	img, err := o.d.Generator.Generate(ctx, text, s.ProductID, domain.ModePreview)
	if err != nil {
		return o.generationFailed(ctx, s, err), nil
	}
	s.Description = text
	s.PreviewCount++
	s.State = StateAwaitingDecision
	o.sendImage(ctx, s.ChatID, img, msgPreviewReady, nil)
	o.reply(ctx, s.ChatID, msgChooseOption, decisionMenu())
	return "preview", nil
}

func (o *Orchestrator) onRegenerate(ctx context.Context, s *Session) (string, error) {
	if s.State != StateAwaitingDecision {
		return "illegal", ErrIllegalTransition
	}
	img, err := o.d.Generator.Generate(ctx, s.Description, s.ProductID, domain.ModePreview)
	if err != nil {
		return o.generationFailed(ctx, s, err), nil
	}
	s.PreviewCount++
	o.sendImage(ctx, s.ChatID, img, msgRegenerated, decisionMenu())
	return "regenerate", nil
}

func (o *Orchestrator) onDone(ctx context.Context, s *Session) (string, error) {
	if s.State != StateAwaitingDecision || s.ProductID == "" || s.Description == "" {
		return "illegal", ErrIllegalTransition
	}
	amount, ok := o.d.Catalog.Price(s.ProductID)
	if !ok {
		return "illegal", ErrIllegalTransition
	}
	s.State = StateAwaitingPaymentProof
	o.reply(ctx, s.ChatID, paymentInstructions(amount, o.d.PaymentAddress), nil)
	return "payment_requested", nil
}

// onProof verifies the proof, delivers the final artifact, records the
// transaction and notifies the operator, in that order.
func (o *Orchestrator) onProof(ctx context.Context, s *Session, proofRef string) (string, error) {
	amount, ok := o.d.Catalog.Price(s.ProductID)
	if !ok || s.Description == "" {
		return "illegal", ErrIllegalTransition
	}

	proof := payment.Proof{UserID: s.UserID, ProductID: s.ProductID, Amount: amount, Ref: proofRef}
	if err := o.d.Verifier.Verify(ctx, proof); err != nil {
		log.Info().Err(err).Str("user_id", s.UserID).Msg("payment proof rejected")
		o.reply(ctx, s.ChatID, paymentRejected(amount), nil)
		return "verification_failed", nil
	}

	img, err := o.d.Generator.Generate(ctx, s.Description, s.ProductID, domain.ModeFinal)
	if err != nil {
		return o.generationFailed(ctx, s, err), nil
	}

	o.reply(ctx, s.ChatID, msgPaymentVerified, nil)
	if err := o.d.Messenger.SendImage(ctx, s.ChatID, img, "", nil); err != nil {
		log.Error().Err(err).Str("user_id", s.UserID).Msg("final artifact delivery failed")
		return "delivery_failed", fmt.Errorf("order: deliver final artifact: %w", err)
	}

	tx := ledger.NewRecord(s.UserID, s.ChatID, s.ProductID, amount, proofRef)
	if err := o.d.Ledger.Append(ctx, tx); err != nil {
		o.escalateLedgerFailure(ctx, s, tx, err)
		return "ledger_failed", err
	}

	completed.Inc()
	revenue.WithLabelValues(tx.ProductID).Add(float64(tx.Amount))
	log.Info().
		Str("tx_id", tx.ID).
		Str("user_id", tx.UserID).
		Str("product", tx.ProductID).
		Int64("amount", tx.Amount).
		Msg("transaction recorded")

	if o.d.OperatorChatID != "" {
		o.reply(ctx, o.d.OperatorChatID, operatorNotice(tx), nil)
	}
	if err := o.d.Publisher.PublishTransaction(ctx, tx); err != nil {
		log.Warn().Err(err).Str("tx_id", tx.ID).Msg("transaction event not published")
	}

	log.Debug().Str("user_id", s.UserID).Str("state", string(StateCompleted)).Msg("order completed")
	s.reset()
	return "completed", nil
}

func (o *Orchestrator) escalateLedgerFailure(ctx context.Context, s *Session, tx *domain.Transaction, err error) {
	log.Error().
		Err(err).
		Str("tx_id", tx.ID).
		Str("user_id", tx.UserID).
		Str("chat_id", tx.ChatID).
		Str("product", tx.ProductID).
		Int64("amount", tx.Amount).
		Str("proof_ref", tx.ProofRef).
		Msg("ledger append failed")
	if o.d.OperatorChatID != "" {
		o.reply(ctx, o.d.OperatorChatID, operatorLedgerAlert(tx, err), nil)
	}
	o.reply(ctx, s.ChatID, msgLedgerDelayed, nil)
}

// generationFailed answers a generation error and returns its outcome label.
func (o *Orchestrator) generationFailed(ctx context.Context, s *Session, err error) string {
	if errors.Is(err, generation.ErrBackendUnavailable) {
		o.reply(ctx, s.ChatID, msgNotReady, nil)
		return "backend_unavailable"
	}
	log.Warn().Err(err).Str("user_id", s.UserID).Str("state", string(s.State)).Msg("generation failed")
	o.reply(ctx, s.ChatID, msgGenerationError, nil)
	return "generation_failed"
}

func (o *Orchestrator) reply(ctx context.Context, chatID, text string, kb chat.Keyboard) {
	if err := o.d.Messenger.SendText(ctx, chatID, text, kb); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("send text failed")
	}
}

func (o *Orchestrator) sendImage(ctx context.Context, chatID string, img []byte, caption string, kb chat.Keyboard) {
	if err := o.d.Messenger.SendImage(ctx, chatID, img, caption, kb); err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("send image failed")
	}
}

func looksLikeURL(s string) bool {
	return !strings.ContainsAny(s, " \n\t") &&
		(strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://"))
}
