// Package gateway holds the payment method adapters. Each one starts a
// provider-side flow and turns the provider's webhook into a CallbackMessage;
// outcomes never come back synchronously from Start.
package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/smarttransit/booking-engine/internal/models"
)

// MethodAdapter starts payments for one method family
type MethodAdapter interface {
	Family() models.MethodFamily
	Start(ctx context.Context, req models.PaymentStartRequest) (*models.PaymentStartResult, error)
}

// CallbackParser verifies and decodes a provider webhook.
// A nil message with a nil error means the notification is valid but not
// about a payment outcome and should just be acknowledged.
type CallbackParser interface {
	ParseCallback(header http.Header, body []byte) (*models.CallbackMessage, error)
}

// Adapter is what the registry holds: every adapter can start and parse
type Adapter interface {
	MethodAdapter
	CallbackParser
}

// Registry resolves payment methods to their adapters
type Registry struct {
	byFamily map[models.MethodFamily]Adapter
}

// NewRegistry indexes adapters by family
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byFamily: make(map[models.MethodFamily]Adapter, len(adapters))}
	for _, a := range adapters {
		r.byFamily[a.Family()] = a
	}
	return r
}

// ForMethod returns the adapter serving method
func (r *Registry) ForMethod(method models.PaymentMethod) (Adapter, error) {
	if !method.IsValid() {
		return nil, models.NewValidationError("method", "unknown payment method "+string(method))
	}
	a, ok := r.byFamily[method.Family()]
	if !ok {
		return nil, fmt.Errorf("payment method %s: %w", method, models.ErrMethodNotPermitted)
	}
	return a, nil
}

func invalidSignature(provider string, err error) error {
	if err == nil {
		return fmt.Errorf("%s callback: %w", provider, models.ErrInvalidSignature)
	}
	return fmt.Errorf("%s callback: %w: %v", provider, models.ErrInvalidSignature, err)
}
