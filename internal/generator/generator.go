// Package generator produces the randomized inputs sent by simulated users:
// query parameters, path parameters and JSON body fields.
package generator

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/example/finance/tools/loadgen/internal/config"
)

// ErrInvalidConfig is returned when a generator configuration is invalid.
var ErrInvalidConfig = errors.New("generator: invalid configuration")

// ErrFixtureNotFound is returned when a parameter references an unknown fixture list.
var ErrFixtureNotFound = errors.New("generator: fixture not found")

// Generator produces one value per call.
type Generator interface {
	Generate() (any, error)
	Type() GeneratorType
}

// GeneratorType identifies the type of generator.
type GeneratorType string

const (
	TypeFaker  GeneratorType = "faker"
	TypeFloat  GeneratorType = "float"
	TypeInt    GeneratorType = "int"
	TypeUUID   GeneratorType = "uuid"
	TypeDate   GeneratorType = "date"
	TypeChoice GeneratorType = "choice"
)

const (
	defaultPrecision  = 2
	defaultDateLayout = "2006-01-02"
	dateWindow        = 365 * 24 * time.Hour
)

// source is a gofakeit faker guarded by a mutex; gofakeit's default source
// is not safe for concurrent use.
type source struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

func newSource() *source {
	return &source{faker: gofakeit.New(0)}
}

func (s *source) with(fn func(f *gofakeit.Faker) any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.faker)
}

// New creates a generator from cfg with its own random source.
func New(cfg config.GeneratorConfig) (Generator, error) {
	return newWithSource(cfg, newSource())
}

func newWithSource(cfg config.GeneratorConfig, src *source) (Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch GeneratorType(cfg.Type) {
	case TypeFaker:
		return newFakerGenerator(cfg.Faker, src)

	case TypeFloat:
		precision := defaultPrecision
		if cfg.Precision != nil {
			precision = *cfg.Precision
		}
		return &floatGenerator{min: cfg.Min, max: cfg.Max, precision: precision, src: src}, nil

	case TypeInt:
		return &intGenerator{min: int(cfg.Min), max: int(cfg.Max), src: src}, nil

	case TypeUUID:
		return uuidGenerator{}, nil

	case TypeDate:
		layout := cfg.Layout
		if layout == "" {
			layout = defaultDateLayout
		}
		return &dateGenerator{layout: layout, src: src}, nil

	case TypeChoice:
		return &choiceGenerator{choices: cfg.Choices, src: src}, nil
	}
	return nil, fmt.Errorf("%w: unknown generator type: %q", ErrInvalidConfig, cfg.Type)
}

// CheckConfig builds every generator the enabled tasks of cfg would use, so
// that settings only the generator knows about, such as faker function
// names, are rejected before a run starts.
func CheckConfig(cfg *config.Config) error {
	src := newSource()
	for _, p := range cfg.EnabledProfiles() {
		for _, t := range p.EnabledTasks() {
			for _, params := range []map[string]config.ParamConfig{t.Query, t.PathParams, t.BodyParams} {
				for name, param := range params {
					if param.Value != "" || param.Fixture != "" || param.Generator == nil {
						continue
					}
					if _, err := newWithSource(*param.Generator, src); err != nil {
						return fmt.Errorf("profile %s: task %s: %s: %w", p.Name, t.Name, name, err)
					}
				}
			}
		}
	}
	return nil
}

// floatGenerator draws uniformly from [min, max] and rounds to precision decimals.
type floatGenerator struct {
	min, max  float64
	precision int
	src       *source
}

func (g *floatGenerator) Generate() (any, error) {
	v := g.src.with(func(f *gofakeit.Faker) any { return f.Float64Range(g.min, g.max) }).(float64)
	return roundTo(v, g.precision), nil
}

func (g *floatGenerator) Type() GeneratorType { return TypeFloat }

func roundTo(v float64, precision int) float64 {
	scale := math.Pow(10, float64(precision))
	return math.Round(v*scale) / scale
}

type intGenerator struct {
	min, max int
	src      *source
}

func (g *intGenerator) Generate() (any, error) {
	return g.src.with(func(f *gofakeit.Faker) any { return f.IntRange(g.min, g.max) }), nil
}

func (g *intGenerator) Type() GeneratorType { return TypeInt }

type uuidGenerator struct{}

func (uuidGenerator) Generate() (any, error) { return uuid.NewString(), nil }

func (uuidGenerator) Type() GeneratorType { return TypeUUID }

// dateGenerator returns a date within the last year, formatted with layout.
type dateGenerator struct {
	layout string
	src    *source
}

func (g *dateGenerator) Generate() (any, error) {
	end := time.Now()
	d := g.src.with(func(f *gofakeit.Faker) any { return f.DateRange(end.Add(-dateWindow), end) }).(time.Time)
	return d.Format(g.layout), nil
}

func (g *dateGenerator) Type() GeneratorType { return TypeDate }

type choiceGenerator struct {
	choices []string
	src     *source
}

func (g *choiceGenerator) Generate() (any, error) {
	return g.src.with(func(f *gofakeit.Faker) any { return f.RandomString(g.choices) }), nil
}

func (g *choiceGenerator) Type() GeneratorType { return TypeChoice }
