// Package contract checks configured tasks against the target's OpenAPI document.
package contract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/example/finance/tools/loadgen/internal/config"
)

// Errors returned by the contract package.
var (
	// ErrLoadDocument is returned when the OpenAPI document cannot be loaded.
	ErrLoadDocument = errors.New("contract: cannot load OpenAPI document")
	// ErrViolations is returned by Report.Err when findings exist.
	ErrViolations = errors.New("contract: tasks do not match the OpenAPI document")
)

// FindingKind classifies a mismatch between a task and the document.
type FindingKind string

const (
	// FindingUndeclaredPath means no path in the document matches the task path.
	FindingUndeclaredPath FindingKind = "undeclared-path"
	// FindingUndeclaredMethod means the path exists but not with the task's method.
	FindingUndeclaredMethod FindingKind = "undeclared-method"
	// FindingMissingAuth means the operation declares security but the task never sends a token.
	FindingMissingAuth FindingKind = "missing-auth"
	// FindingUnknownQuery means the task sends a query parameter the operation does not declare.
	FindingUnknownQuery FindingKind = "unknown-query-param"
)

// Finding is one mismatch.
type Finding struct {
	Profile string
	Task    string
	Method  string
	Path    string
	Kind    FindingKind
	Detail  string
}

func (f Finding) String() string {
	s := fmt.Sprintf("%s/%s: %s %s: %s", f.Profile, f.Task, f.Method, f.Path, f.Kind)
	if f.Detail != "" {
		s += " (" + f.Detail + ")"
	}
	return s
}

// Report is the result of a check.
type Report struct {
	Title   string
	Version string
	// ValidationError is set when the document loads but does not validate.
	ValidationError error
	Checked         int
	Findings        []Finding
}

// OK reports whether no findings were produced.
func (r *Report) OK() bool {
	return len(r.Findings) == 0
}

// Err returns ErrViolations wrapped with a count when there are findings.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: %d finding(s)", ErrViolations, len(r.Findings))
}

// Checker holds a loaded OpenAPI document.
type Checker struct {
	doc    *openapi3.T
	routes map[string]route
}

type route struct {
	path string
	item *openapi3.PathItem
}

// Load reads an OpenAPI document from a file path or an http(s) URL.
func Load(ctx context.Context, location string) (*Checker, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	var (
		doc *openapi3.T
		err error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		var u *url.URL
		u, err = url.Parse(location)
		if err == nil {
			doc, err = loader.LoadFromURI(u)
		}
	} else {
		doc, err = loader.LoadFromFile(location)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLoadDocument, location, err)
	}
	return newChecker(doc), nil
}

// LoadFromData parses an OpenAPI document held in memory.
func LoadFromData(data []byte) (*Checker, error) {
	doc, err := openapi3.NewLoader().LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadDocument, err)
	}
	return newChecker(doc), nil
}

func newChecker(doc *openapi3.T) *Checker {
	c := &Checker{doc: doc, routes: make(map[string]route)}
	if doc.Paths != nil {
		for path, item := range doc.Paths.Map() {
			c.routes[normalizePath(path)] = route{path: path, item: item}
		}
	}
	return c
}

// Check compares every enabled task of every enabled profile in cfg
// against the document.
func (c *Checker) Check(ctx context.Context, cfg *config.Config) *Report {
	report := &Report{}
	if c.doc.Info != nil {
		report.Title = c.doc.Info.Title
		report.Version = c.doc.Info.Version
	}
	if err := c.doc.Validate(ctx); err != nil {
		report.ValidationError = err
	}

	for _, p := range cfg.EnabledProfiles() {
		if p.Login != nil {
			report.Checked++
			report.Findings = append(report.Findings, c.checkOperation(p.Name, "login", p.Login.Method, p.Login.Endpoint, config.AuthNone, nil)...)
		}
		for _, t := range p.EnabledTasks() {
			report.Checked++
			report.Findings = append(report.Findings, c.checkOperation(p.Name, t.Name, t.Method, t.Path, t.Auth, t.Query)...)
		}
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Profile != b.Profile {
			return a.Profile < b.Profile
		}
		return a.Task < b.Task
	})
	return report
}

func (c *Checker) checkOperation(profile, task, method, path string, auth config.AuthMode, query map[string]config.ParamConfig) []Finding {
	method = strings.ToUpper(method)
	base := Finding{Profile: profile, Task: task, Method: method, Path: path}

	r, ok := c.routes[normalizePath(path)]
	if !ok {
		base.Kind = FindingUndeclaredPath
		return []Finding{base}
	}

	op := r.item.GetOperation(method)
	if op == nil {
		base.Kind = FindingUndeclaredMethod
		base.Detail = "declared: " + strings.Join(declaredMethods(r.item), ", ")
		return []Finding{base}
	}

	var findings []Finding
	if auth == config.AuthNone && c.requiresAuth(op) {
		f := base
		f.Kind = FindingMissingAuth
		findings = append(findings, f)
	}

	declared := declaredQuery(r.item, op)
	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !declared[name] {
			f := base
			f.Kind = FindingUnknownQuery
			f.Detail = name
			findings = append(findings, f)
		}
	}
	return findings
}

// requiresAuth reports whether op needs credentials; operation-level
// security overrides the document default.
func (c *Checker) requiresAuth(op *openapi3.Operation) bool {
	security := c.doc.Security
	if op.Security != nil {
		security = *op.Security
	}
	if len(security) == 0 {
		return false
	}
	for _, req := range security {
		if len(req) == 0 {
			return false
		}
	}
	return true
}

func declaredQuery(item *openapi3.PathItem, op *openapi3.Operation) map[string]bool {
	out := make(map[string]bool)
	for _, params := range []openapi3.Parameters{item.Parameters, op.Parameters} {
		for _, ref := range params {
			if ref == nil || ref.Value == nil {
				continue
			}
			if ref.Value.In == openapi3.ParameterInQuery {
				out[ref.Value.Name] = true
			}
		}
	}
	return out
}

func declaredMethods(item *openapi3.PathItem) []string {
	ops := item.Operations()
	methods := make([]string, 0, len(ops))
	for m := range ops {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

var templateSegment = regexp.MustCompile(`\{[^{}]+\}`)

// normalizePath drops parameter names and any trailing slash so that
// /a/{user_id} matches /a/{id}.
func normalizePath(path string) string {
	path = templateSegment.ReplaceAllString(path, "{}")
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}
