package provider

import (
	"fmt"
	"sort"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/pkg/circuitbreaker"
)

// Constructor builds a client from a provider's master credentials.
type Constructor func(master model.Credentials, deps Deps, breaker *circuitbreaker.CircuitBreaker) Client

// Registry maps provider type tags to constructors. It is populated once at
// startup with Register and read-only afterwards.
type Registry struct {
	deps       Deps
	breakerCfg circuitbreaker.Config
	ctors      map[model.ProviderType]Constructor
	breakers   map[model.ProviderType]*circuitbreaker.CircuitBreaker
}

func NewRegistry(deps Deps, breakerCfg circuitbreaker.Config) *Registry {
	deps = deps.withDefaults()
	if deps.SMTPBreakers == nil {
		deps.SMTPBreakers = circuitbreaker.NewGroup("smtp", breakerCfg)
	}
	return &Registry{
		deps:       deps,
		breakerCfg: breakerCfg,
		ctors:      make(map[model.ProviderType]Constructor),
		breakers:   make(map[model.ProviderType]*circuitbreaker.CircuitBreaker),
	}
}

// NewDefaultRegistry registers both supported vendors.
func NewDefaultRegistry(deps Deps, breakerCfg circuitbreaker.Config) *Registry {
	return NewRegistry(deps, breakerCfg).
		Register(model.ProviderSMTP2GO, NewSMTP2GoClient).
		Register(model.ProviderMailerSend, NewMailerSendClient)
}

// Register adds a constructor. Each tag gets its own circuit breaker for the
// vendor REST API, shared by every client built for it. SMTP sends break per
// app credentials through Deps.SMTPBreakers instead.
func (r *Registry) Register(tag model.ProviderType, ctor Constructor) *Registry {
	r.ctors[tag] = ctor
	r.breakers[tag] = circuitbreaker.NewCircuitBreaker(string(tag), r.breakerCfg)
	return r
}

// Resolve returns the constructor registered for tag.
func (r *Registry) Resolve(tag model.ProviderType) (Constructor, error) {
	ctor, ok := r.ctors[tag]
	if !ok {
		return nil, apperror.ErrUnsupportedProvider.WithMessage("Unsupported provider type: %s", tag)
	}
	return ctor, nil
}

// Client resolves tag and builds a client for the given master credentials.
func (r *Registry) Client(tag model.ProviderType, master model.Credentials) (Client, error) {
	ctor, err := r.Resolve(tag)
	if err != nil {
		return nil, err
	}
	return ctor(master, r.deps, r.breakers[tag]), nil
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []model.ProviderType {
	out := make([]model.ProviderType, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("provider.Registry%v", r.Types())
}
