// Package scenario holds the built-in user profiles for the finance API and a
// registry that merges them with profiles loaded from YAML files.
package scenario

import (
	"net/http"
	"slices"
	"time"

	"github.com/example/finance/tools/loadgen/internal/config"
)

// Fixture names shared by the built-in profiles.
const (
	FixtureUserIDs                 = "user_ids"
	FixtureTransactionDescriptions = "transaction_descriptions"
	FixtureTransactionTypes        = "transaction_types"
	FixtureChatPrompts             = "chat_prompts"
)

// Fixtures returns the sample input lists used by the built-in profiles.
func Fixtures() map[string][]string {
	return map[string][]string{
		FixtureUserIDs: {
			"19aaa01d-4413-467c-82ee-2f30defb2fee",
			"123e4567-e89b-12d3-a456-426614174000",
		},
		FixtureTransactionDescriptions: {
			"Grocery shopping at Walmart",
			"Coffee at Starbucks",
			"Monthly rent payment",
			"Gym membership",
		},
		FixtureTransactionTypes: {"expense", "income"},
		FixtureChatPrompts: {
			"How can I save more on groceries?",
			"What's the best way to budget for travel?",
			"Should I invest my savings?",
		},
	}
}

func login(username, password string) *config.LoginConfig {
	return &config.LoginConfig{
		Endpoint:    config.DefaultLoginEndpoint,
		Method:      http.MethodPost,
		Username:    username,
		Password:    password,
		TokenFields: slices.Clone(config.DefaultTokenFields),
	}
}

func waitTime() config.WaitTimeConfig {
	return config.WaitTimeConfig{Min: time.Second, Max: 3 * time.Second}
}

func fixture(name string) config.ParamConfig {
	return config.ParamConfig{Fixture: name}
}

func get(name, path string, weight int, auth config.AuthMode) config.TaskConfig {
	return config.TaskConfig{
		Name:   name,
		Method: http.MethodGet,
		Path:   path,
		Weight: config.Weight(weight),
		Auth:   auth,
	}
}

func byUserID(t config.TaskConfig) config.TaskConfig {
	t.PathParams = map[string]config.ParamConfig{"user_id": fixture(FixtureUserIDs)}
	return t
}

func withUserIDQuery(t config.TaskConfig) config.TaskConfig {
	t.Query = map[string]config.ParamConfig{"user_id": fixture(FixtureUserIDs)}
	return t
}

func healthTask() config.TaskConfig {
	return get("/health", "/health", 1, config.AuthNone)
}

func financePreset() config.ProfileConfig {
	predict := get("/stocks/predict", "/stocks/predict", 3, config.AuthRequired)
	predict.Query = map[string]config.ParamConfig{"ticker": {Value: "AAPL"}}

	risk := get("/risk/assess", "/risk/assess", 1, config.AuthRequired)
	risk.Query = map[string]config.ParamConfig{"portfolio_id": {Value: "123"}}

	return config.ProfileConfig{
		Name:        "finance",
		Description: "Stock prediction, budgeting, portfolio optimization and risk assessment",
		WaitTime:    waitTime(),
		Login:       login("johndoe", "123"),
		Tasks: []config.TaskConfig{
			predict,
			{
				Name:   "/budget/add",
				Method: http.MethodPost,
				Path:   "/budget/add",
				Weight: config.Weight(2),
				Auth:   config.AuthRequired,
				Body:   map[string]any{"amount": 100.50, "category": "Food", "date": "2025-05-10"},
			},
			{
				Name:   "/portfolio/optimize",
				Method: http.MethodPost,
				Path:   "/portfolio/optimize",
				Weight: config.Weight(1),
				Auth:   config.AuthRequired,
				Body:   map[string]any{"assets": []any{"AAPL", "GOOGL"}, "investment_amount": 10000},
			},
			risk,
			healthTask(),
		},
	}
}

func adminPreset() config.ProfileConfig {
	return config.ProfileConfig{
		Name:        "admin",
		Description: "Administrator session; logs in and checks service health",
		WaitTime:    waitTime(),
		Login:       login("johnsmith", "admin123"),
		Tasks:       []config.TaskConfig{healthTask()},
	}
}

func budgetPreset() config.ProfileConfig {
	precision := 2

	categorize := get("/budget/categorize-transaction", "/budget/categorize-transaction", 2, config.AuthOptional)
	categorize.Query = map[string]config.ParamConfig{
		"description": fixture(FixtureTransactionDescriptions),
		"amount": {Generator: &config.GeneratorConfig{
			Type: "float", Min: 5.0, Max: 500.0, Precision: &precision,
		}},
		"type": fixture(FixtureTransactionTypes),
	}

	chat := get("/budget/chat", "/budget/chat", 1, config.AuthOptional)
	chat.Query = map[string]config.ParamConfig{"prompt": fixture(FixtureChatPrompts)}

	return config.ProfileConfig{
		Name:        "budget",
		Description: "Budget predictions, reports, transactions and the budgeting assistant",
		WaitTime:    waitTime(),
		Login:       login("johndoe", "123"),
		Tasks: []config.TaskConfig{
			withUserIDQuery(get("/budget/predictions", "/budget/predictions", 3, config.AuthRequired)),
			withUserIDQuery(get("/budget/budget-report", "/budget/budget-report", 2, config.AuthRequired)),
			categorize,
			chat,
			get("/budget/email", "/budget/email", 1, config.AuthOptional),
			byUserID(get("/budget/transactions", "/budget/transactions/{user_id}", 2, config.AuthRequired)),
			byUserID(get("/budget/transactions/categories", "/budget/transactions/categories/{user_id}", 1, config.AuthRequired)),
			byUserID(get("/budget/transactions/summary", "/budget/transactions/summary/{user_id}", 2, config.AuthRequired)),
			byUserID(get("/budget/budget-goals", "/budget/budget-goals/{user_id}", 2, config.AuthRequired)),
		},
	}
}

func predictionsPreset() config.ProfileConfig {
	return config.ProfileConfig{
		Name:        "predictions",
		Description: "Active stock symbols",
		WaitTime:    waitTime(),
		Login:       login("johndoe", "123"),
		Tasks: []config.TaskConfig{
			get("/get-active-symbols", "/get-active-symbols", 1, config.AuthOptional),
		},
	}
}

func profilePreset() config.ProfileConfig {
	risk := withUserIDQuery(get("/profile/risk_score", "/profile/risk_score", 2, config.AuthRequired))
	risk.ExpectedStatus = []int{http.StatusOK, http.StatusNoContent}

	return config.ProfileConfig{
		Name:        "profile",
		Description: "Profile service ping, portfolio and risk score",
		WaitTime:    waitTime(),
		Login:       login("test_user", "test_pass"),
		Tasks: []config.TaskConfig{
			get("/profile/ping", "/profile/ping", 1, config.AuthNone),
			get("/profile/get_portfolio", "/profile/get_portfolio", 2, config.AuthRequired),
			risk,
		},
	}
}

func userAuthPreset() config.ProfileConfig {
	return config.ProfileConfig{
		Name:        "user-auth",
		Description: "Authenticated user profile lookup",
		WaitTime:    waitTime(),
		Login:       login("johndoe", "123"),
		Tasks: []config.TaskConfig{
			get("/auth/user/profile", "/auth/user/profile", 1, config.AuthRequired),
		},
	}
}

// Presets returns all built-in profiles in a stable order. Each call returns
// fresh copies that callers may modify.
func Presets() []config.ProfileConfig {
	presets := []config.ProfileConfig{
		financePreset(),
		adminPreset(),
		budgetPreset(),
		predictionsPreset(),
		profilePreset(),
		userAuthPreset(),
	}
	for i := range presets {
		presets[i].ApplyDefaults()
	}
	return presets
}

// Names returns the built-in profile names in order.
func Names() []string {
	presets := Presets()
	names := make([]string, len(presets))
	for i, p := range presets {
		names[i] = p.Name
	}
	return names
}

// Get returns the named built-in profile.
func Get(name string) (config.ProfileConfig, error) {
	return NewRegistry().Get(name)
}

// DefaultConfig builds a runnable configuration from built-in profiles.
// With no names every preset is included.
func DefaultConfig(baseURL string, names ...string) (*config.Config, error) {
	return NewRegistry().Config(baseURL, names...)
}
