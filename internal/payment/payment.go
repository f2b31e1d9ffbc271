// Package payment decides whether a submitted proof of payment is genuine.
package payment

import (
	"context"
	"errors"
	"strings"
)

// ErrVerificationFailed is returned when a proof is rejected.
var ErrVerificationFailed = errors.New("payment: proof rejected")

// Proof is what the buyer submitted for an order.
type Proof struct {
	UserID    string
	ProductID string
	Amount    int64
	// Ref is the transport's opaque reference to the uploaded screenshot.
	Ref string
}

// Verifier checks a proof. A nil error means the proof is accepted.
type Verifier interface {
	Verify(ctx context.Context, p Proof) error
}

// AlwaysValid accepts every proof that carries a reference.
type AlwaysValid struct{}

// Verify implements Verifier.
func (AlwaysValid) Verify(_ context.Context, p Proof) error {
	if strings.TrimSpace(p.Ref) == "" {
		return ErrVerificationFailed
	}
	return nil
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, p Proof) error

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, p Proof) error { return f(ctx, p) }
