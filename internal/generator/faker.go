package generator

import (
	"fmt"
	"sort"

	"github.com/brianvoe/gofakeit/v7"
)

// fakerGenerator produces values from a named gofakeit function.
type fakerGenerator struct {
	name  string
	genFn func(*gofakeit.Faker) any
	src   *source
}

func newFakerGenerator(name string, src *source) (*fakerGenerator, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: faker type is required", ErrInvalidConfig)
	}
	genFn, ok := fakerFunctions[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown faker type: %s", ErrInvalidConfig, name)
	}
	return &fakerGenerator{name: name, genFn: genFn, src: src}, nil
}

func (g *fakerGenerator) Generate() (any, error) {
	return g.src.with(g.genFn), nil
}

func (g *fakerGenerator) Type() GeneratorType { return TypeFaker }

// fakerFunctions maps faker type names to gofakeit calls.
var fakerFunctions = map[string]func(*gofakeit.Faker) any{
	// Person
	"name":      func(f *gofakeit.Faker) any { return f.Name() },
	"firstName": func(f *gofakeit.Faker) any { return f.FirstName() },
	"lastName":  func(f *gofakeit.Faker) any { return f.LastName() },
	"username":  func(f *gofakeit.Faker) any { return f.Username() },
	"email":     func(f *gofakeit.Faker) any { return f.Email() },
	"phone":     func(f *gofakeit.Faker) any { return f.Phone() },

	// Place
	"city":    func(f *gofakeit.Faker) any { return f.City() },
	"country": func(f *gofakeit.Faker) any { return f.Country() },
	"zipCode": func(f *gofakeit.Faker) any { return f.Zip() },

	// Company
	"company":  func(f *gofakeit.Faker) any { return f.Company() },
	"jobTitle": func(f *gofakeit.Faker) any { return f.JobTitle() },
	"buzzWord": func(f *gofakeit.Faker) any { return f.BuzzWord() },

	// Money
	"price":          func(f *gofakeit.Faker) any { return f.Price(1, 1000) },
	"currency":       func(f *gofakeit.Faker) any { return f.Currency().Short },
	"currencyLong":   func(f *gofakeit.Faker) any { return f.Currency().Long },
	"creditCard":     func(f *gofakeit.Faker) any { return f.CreditCardNumber(nil) },
	"creditCardType": func(f *gofakeit.Faker) any { return f.CreditCardType() },
	"achAccount":     func(f *gofakeit.Faker) any { return f.AchAccount() },
	"achRouting":     func(f *gofakeit.Faker) any { return f.AchRouting() },

	// Product
	"productName":     func(f *gofakeit.Faker) any { return f.ProductName() },
	"productCategory": func(f *gofakeit.Faker) any { return f.ProductCategory() },

	// Text
	"word":     func(f *gofakeit.Faker) any { return f.Word() },
	"sentence": func(f *gofakeit.Faker) any { return f.Sentence(5) },

	// Identifiers
	"uuid": func(f *gofakeit.Faker) any { return f.UUID() },

	// Date
	"date": func(f *gofakeit.Faker) any { return f.Date().Format("2006-01-02") },
	"year": func(f *gofakeit.Faker) any { return f.Year() },
}

// SupportedFakerTypes returns all supported faker type names, sorted.
func SupportedFakerTypes() []string {
	types := make([]string, 0, len(fakerFunctions))
	for t := range fakerFunctions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
