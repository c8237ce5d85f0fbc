package secret

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const refPrefix = "secretref:"

// refPattern matches a reference embedded in a longer value, such as
// "Bearer secretref:file:token".
var refPattern = regexp.MustCompile(`secretref:([^:\s]+):(\S+)`)

// Resolver turns configuration values into secrets.
//
// A value is first passed through ExpandEnvStrict. If the result is a
// single "secretref:<provider>:<ref>" it is replaced by whatever the
// provider returns; otherwise every embedded reference is substituted in
// place. A strict resolver treats an empty secret as an error.
type Resolver struct {
	strict bool

	mu     sync.RWMutex
	byName map[string]Provider
}

// NewResolver returns a resolver backed by providers. Nil providers are
// skipped.
func NewResolver(strict bool, providers ...Provider) *Resolver {
	r := &Resolver{strict: strict, byName: map[string]Provider{}}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds provider, replacing any provider with the same name.
func (r *Resolver) Register(provider Provider) {
	if r == nil || provider == nil {
		return
	}
	r.mu.Lock()
	if r.byName == nil {
		r.byName = map[string]Provider{}
	}
	r.byName[provider.Name()] = provider
	r.mu.Unlock()
}

// Close closes and forgets every provider. Later lookups fail with
// ErrProviderNotRegistered.
func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	providers := r.byName
	r.byName = nil
	r.mu.Unlock()

	var errs []error
	for name, p := range providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ResolveValue expands environment variables in value and then resolves
// any secret references. A nil Resolver only expands.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil || r == nil {
		return expanded, err
	}

	if name, ref, ok := ParseSecretRef(expanded); ok {
		return r.lookup(ctx, name, ref)
	}
	if !strings.Contains(expanded, refPrefix) {
		return expanded, nil
	}
	return r.substitute(ctx, expanded)
}

// ResolveSlice resolves values in order and stops at the first failure.
func (r *Resolver) ResolveSlice(ctx context.Context, values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ResolveMap resolves every value of input. A nil map resolves to nil.
func (r *Resolver) ResolveMap(ctx context.Context, input map[string]string) (map[string]string, error) {
	if input == nil {
		return nil, nil
	}
	out := make(map[string]string, len(input))
	for key, v := range input {
		s, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", key, err)
		}
		out[key] = s
	}
	return out, nil
}

// ParseSecretRef splits a value that is exactly one reference,
// "secretref:<provider>:<ref>", into its provider name and ref.
func ParseSecretRef(value string) (provider string, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}

func (r *Resolver) lookup(ctx context.Context, name, ref string) (string, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(ref) == "" {
		return "", ErrEmptyRef
	}

	r.mu.RLock()
	p := r.byName[name]
	r.mu.RUnlock()
	if p == nil {
		return "", fmt.Errorf("%w: %q", ErrProviderNotRegistered, name)
	}

	v, err := p.Resolve(ctx, ref)
	switch {
	case err != nil:
		return "", err
	case v == "" && r.strict:
		return "", fmt.Errorf("%w: %s:%s", ErrEmptyValue, name, ref)
	}
	return v, nil
}

func (r *Resolver) substitute(ctx context.Context, value string) (string, error) {
	var b strings.Builder
	last := 0
	for _, m := range refPattern.FindAllStringSubmatchIndex(value, -1) {
		v, err := r.lookup(ctx, value[m[2]:m[3]], value[m[4]:m[5]])
		if err != nil {
			return "", err
		}
		b.WriteString(value[last:m[0]])
		b.WriteString(v)
		last = m[1]
	}
	b.WriteString(value[last:])
	return b.String(), nil
}
