package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/example/finance/tools/loadgen/internal/config"
)

// Errors returned by the scenario package.
var (
	// ErrPresetNotFound is returned when a profile name is unknown.
	ErrPresetNotFound = errors.New("scenario: profile not found")
	// ErrInvalidProfile is returned when a profile definition is invalid.
	ErrInvalidProfile = errors.New("scenario: invalid profile")
)

// File is a YAML file holding one or more profile definitions.
type File struct {
	Fixtures map[string][]string    `yaml:"fixtures,omitempty"`
	Profiles []config.ProfileConfig `yaml:"profiles"`
}

// Registry holds the profiles available to a run. It starts with the
// built-in presets; profiles loaded later replace presets of the same name.
type Registry struct {
	order    []string
	profiles map[string]config.ProfileConfig
	fixtures map[string][]string
}

// NewRegistry creates a registry holding the built-in presets.
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]config.ProfileConfig),
		fixtures: Fixtures(),
	}
	for _, p := range Presets() {
		_ = r.Register(p)
	}
	return r
}

// Register adds or replaces a profile.
func (r *Registry) Register(p config.ProfileConfig) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if len(p.Tasks) == 0 {
		return fmt.Errorf("%w: profile %s has no tasks", ErrInvalidProfile, p.Name)
	}
	p.ApplyDefaults()

	if _, exists := r.profiles[p.Name]; !exists {
		r.order = append(r.order, p.Name)
	}
	r.profiles[p.Name] = p
	return nil
}

// Get returns a copy of the named profile.
func (r *Registry) Get(name string) (config.ProfileConfig, error) {
	p, ok := r.profiles[name]
	if !ok {
		return config.ProfileConfig{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	p.Tasks = slices.Clone(p.Tasks)
	if p.Weight != nil {
		p.Weight = config.Weight(*p.Weight)
	}
	for i := range p.Tasks {
		if w := p.Tasks[i].Weight; w != nil {
			p.Tasks[i].Weight = config.Weight(*w)
		}
	}
	if p.Login != nil {
		login := *p.Login
		p.Login = &login
	}
	return p, nil
}

// List returns profile names in registration order.
func (r *Registry) List() []string {
	return slices.Clone(r.order)
}

// Count returns the number of registered profiles.
func (r *Registry) Count() int {
	return len(r.profiles)
}

// Fixtures returns the merged fixture lists of all loaded files.
func (r *Registry) Fixtures() map[string][]string {
	out := make(map[string][]string, len(r.fixtures))
	for k, v := range r.fixtures {
		out[k] = slices.Clone(v)
	}
	return out
}

// LoadFromFile registers every profile in a YAML profile file.
func (r *Registry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading profile file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing profile file: %w", err)
	}
	if len(file.Profiles) == 0 {
		return fmt.Errorf("%w: %s defines no profiles", ErrInvalidProfile, path)
	}

	for name, values := range file.Fixtures {
		r.fixtures[name] = values
	}
	for i, p := range file.Profiles {
		if err := r.Register(p); err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadFromDirectory loads every .yaml and .yml file in dir.
// A missing directory is not an error.
func (r *Registry) LoadFromDirectory(dir string) error {
	if dir == "" {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading profiles directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := r.LoadFromFile(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("loading %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// Config builds a runnable configuration from the named profiles, or from
// every registered profile when names is empty.
func (r *Registry) Config(baseURL string, names ...string) (*config.Config, error) {
	if len(names) == 0 {
		names = r.order
	}

	profiles := make([]config.ProfileConfig, 0, len(names))
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	cfg := &config.Config{
		Name:        "finance",
		Description: "Finance API profiles",
		Target:      config.TargetConfig{BaseURL: baseURL},
		Profiles:    profiles,
		Fixtures:    r.Fixtures(),
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
