// Package payment implements the payment gateways linkpulse accepts money
// through. Each provider builds invoices, authenticates its own callbacks
// and reduces them to a canonical domain.Notification, so settlement never
// sees a provider-specific shape.
//
// Providers:
//   - liqpay:    base64 JSON envelope signed with SHA-1 over secret‖data‖secret
//   - wayforpay: JSON callback signed with HMAC-MD5 over a fixed field list
//   - monobank:  static jar link, no callback; settled out of band
package payment

import (
	"crypto/subtle"
	"fmt"
	"sort"

	"github.com/linkpulse/linkpulse/internal/domain"
)

// Registry holds the enabled providers by name.
type Registry struct {
	providers map[string]domain.PaymentProvider
}

// NewRegistry creates a registry from the given providers.
func NewRegistry(providers ...domain.PaymentProvider) *Registry {
	r := &Registry{providers: make(map[string]domain.PaymentProvider)}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the named provider.
func (r *Registry) Get(name string) (domain.PaymentProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the enabled provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// equalSignature compares signatures without short-circuiting on the first
// differing byte.
func equalSignature(expected, provided string) bool {
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}
