package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/finance/tools/loadgen/internal/config"
)

const extraProfiles = `
fixtures:
  tickers: [AAPL, MSFT]
profiles:
  - name: stocks
    login:
      username: johndoe
      password: "123"
    tasks:
      - name: /stocks/predict
        method: get
        path: /stocks/predict
        query:
          ticker:
            fixture: tickers
  - name: admin
    tasks:
      - name: /profile/ping
        method: GET
        path: /profile/ping
        auth: none
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRegistry_HoldsPresets(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, Names(), r.List())
	assert.Equal(t, 6, r.Count())
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register(config.ProfileConfig{})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	err = r.Register(config.ProfileConfig{Name: "empty"})
	assert.ErrorIs(t, err, ErrInvalidProfile)

	require.NoError(t, r.Register(config.ProfileConfig{
		Name:  "custom",
		Tasks: []config.TaskConfig{{Name: "/health", Method: "get", Path: "/health"}},
	}))
	p, err := r.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, "GET", p.Tasks[0].Method)
	assert.Equal(t, config.AuthRequired, p.Tasks[0].Auth)
	assert.Equal(t, "custom", r.List()[len(r.List())-1])
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	p, err := r.Get("finance")
	require.NoError(t, err)
	*p.Tasks[0].Weight = 42
	p.Login.Username = "changed"

	again, err := r.Get("finance")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Tasks[0].EffectiveWeight())
	assert.Equal(t, "johndoe", again.Login.Username)
}

func TestRegistry_LoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "extra.yaml", extraProfiles)
	writeFile(t, dir, "notes.txt", "ignored")

	r := NewRegistry()
	require.NoError(t, r.LoadFromDirectory(dir))

	assert.Equal(t, 7, r.Count())
	assert.Equal(t, []string{"AAPL", "MSFT"}, r.Fixtures()["tickers"])

	admin, err := r.Get("admin")
	require.NoError(t, err)
	assert.Nil(t, admin.Login)
	assert.Equal(t, "/profile/ping", admin.Tasks[0].Name)

	cfg, err := r.Config("http://localhost:8000", "stocks")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestRegistry_LoadFromDirectory_Missing(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.LoadFromDirectory(filepath.Join(t.TempDir(), "absent")))
	assert.NoError(t, r.LoadFromDirectory(""))
}

func TestRegistry_LoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry()

	assert.Error(t, r.LoadFromFile(filepath.Join(dir, "missing.yaml")))

	bad := writeFile(t, dir, "bad.yaml", "profiles: [")
	assert.Error(t, r.LoadFromFile(bad))

	empty := writeFile(t, dir, "empty.yaml", "fixtures: {}\n")
	assert.ErrorIs(t, r.LoadFromFile(empty), ErrInvalidProfile)

	noTasks := writeFile(t, dir, "notasks.yaml", "profiles:\n  - name: idle\n")
	assert.ErrorIs(t, r.LoadFromFile(noTasks), ErrInvalidProfile)
}
