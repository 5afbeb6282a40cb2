package generator

import (
	"fmt"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/example/finance/tools/loadgen/internal/config"
)

// Resolver turns ParamConfig entries into concrete values.
// A static value wins over a fixture pick, which wins over a generator.
//
// Thread Safety: Safe for concurrent use.
type Resolver struct {
	fixtures map[string][]string
	src      *source
}

// NewResolver creates a resolver backed by the given fixture lists.
func NewResolver(fixtures map[string][]string) *Resolver {
	if fixtures == nil {
		fixtures = map[string][]string{}
	}
	return &Resolver{fixtures: fixtures, src: newSource()}
}

// Resolve produces one value for p.
func (r *Resolver) Resolve(p config.ParamConfig) (any, error) {
	switch {
	case p.Value != "":
		return p.Value, nil

	case p.Fixture != "":
		values := r.fixtures[p.Fixture]
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrFixtureNotFound, p.Fixture)
		}
		return r.src.with(func(f *gofakeit.Faker) any { return f.RandomString(values) }), nil

	case p.Generator != nil:
		gen, err := newWithSource(*p.Generator, r.src)
		if err != nil {
			return nil, err
		}
		return gen.Generate()

	default:
		return nil, fmt.Errorf("%w: parameter has no value, fixture or generator", ErrInvalidConfig)
	}
}

// ResolveString resolves p and formats the result for use in a URL.
func (r *Resolver) ResolveString(p config.ParamConfig) (string, error) {
	v, err := r.Resolve(p)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

// ResolveAll resolves every entry in params.
func (r *Resolver) ResolveAll(params map[string]config.ParamConfig) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for name, p := range params {
		v, err := r.Resolve(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// ResolveStrings resolves every entry in params as strings.
func (r *Resolver) ResolveStrings(params map[string]config.ParamConfig) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for name, p := range params {
		v, err := r.ResolveString(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
