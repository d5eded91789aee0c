package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

// DefaultMaxDeletes is the deletion limit of the no-mass-delete policy.
const DefaultMaxDeletes = 10

// Engine evaluates Rego policies against a diff before it is applied.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	order    []string
	store    storage.Store
	logger   zerolog.Logger

	maxDeletes    int
	protectedKeys []string
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxDeletes sets how many deletions no-mass-delete tolerates.
func WithMaxDeletes(n int) Option {
	return func(e *Engine) {
		e.maxDeletes = n
	}
}

// WithProtectedKeys sets the dotted keys that may not be modified or deleted
// and enables protected-keys. A key also protects everything below it.
func WithProtectedKeys(keys ...string) Option {
	return func(e *Engine) {
		e.protectedKeys = append(e.protectedKeys, keys...)
	}
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies:   make(map[string]*compiledPolicy),
		logger:     logger.With().Str("component", "policy-engine").Logger(),
		maxDeletes: DefaultMaxDeletes,
	}
	for _, opt := range opts {
		opt(e)
	}

	protected := make([]interface{}, 0, len(e.protectedKeys))
	for _, key := range e.protectedKeys {
		protected = append(protected, key)
	}

	// Built-in policies read their parameters from data.reconcilectl.settings.
	e.store = inmem.NewFromObject(map[string]interface{}{
		"reconcilectl": map[string]interface{}{
			"settings": map[string]interface{}{
				"max_deletes":    e.maxDeletes,
				"protected_keys": protected,
			},
		},
	})

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateDiff evaluates every enabled policy against d. Policies that fail
// to evaluate are reported as warnings and do not deny.
func (e *Engine) EvaluateDiff(ctx context.Context, d diff.Diff, mode engine.Mode) (*Result, error) {
	startTime := time.Now()

	input, err := buildInput(d, mode)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: []string{},
	}

	for _, name := range e.order {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("Policy %s evaluation failed: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	tel := telemetry.FromTelemetryContext(ctx)
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			result.Allowed = false
		}
		if tel != nil {
			tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
			_ = tel.Events.PublishPolicyViolation("", v.Policy, string(v.Severity), v.Message)
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.Duration).
		Msg("Diff policy evaluation completed")

	return result, nil
}

// Enforce evaluates d and returns a permanent POLICY_DENIED error when any
// blocking violation is found. The result is returned in both cases.
func (e *Engine) Enforce(ctx context.Context, d diff.Diff, mode engine.Mode) (*Result, error) {
	result, err := e.EvaluateDiff(ctx, d, mode)
	if err != nil {
		return nil, err
	}
	if result.Allowed {
		return result, nil
	}

	blocking := result.Blocking()
	denyErr := engine.NewPermanentError(
		fmt.Sprintf("denied by %d policy violation(s)", len(blocking)),
		fmt.Errorf("%s: %s", blocking[0].Policy, blocking[0].Message),
	).
		WithCode(engine.ErrCodePolicyDenied).
		WithOperation(string(mode)).
		WithDetail("violations", blocking)
	return result, denyErr
}

func buildInput(d diff.Diff, mode engine.Mode) (map[string]interface{}, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode diff: %w", err)
	}

	summary := d.Summary()
	doc := Input{
		Diff: json.RawMessage(raw),
		Summary: InputSummary{
			Added:    summary.Added,
			Deleted:  summary.Deleted,
			Modified: summary.Modified,
			Total:    summary.Total(),
		},
		Mode:    string(mode),
		Changes: flatten(d, "", []Change{}),
	}

	// Round trip through JSON so that Rego sees plain JSON values.
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var input map[string]interface{}
	if err := json.Unmarshal(encoded, &input); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return input, nil
}

// flatten appends one Change per leaf of d, keyed by the dotted path.
func flatten(d diff.Diff, prefix string, out []Change) []Change {
	for _, entry := range d.Entries() {
		key := entry.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		if entry.Kind == diff.KindNested {
			out = flatten(entry.Child, key, out)
			continue
		}
		out = append(out, Change{
			Key:  key,
			Kind: entry.Kind.String(),
			Old:  entry.Old,
			New:  entry.New,
		})
	}
	return out
}

// AddPolicy compiles policy and adds it, replacing a policy of the same name.
func (e *Engine) AddPolicy(ctx context.Context, policy Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.compileAndStorePolicy(ctx, &policy)
}

// LoadPolicies loads and compiles policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// deny is a set, which OPA returns as a slice.
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// createViolation converts one deny element. Elements are either a message
// string or an object with message and optional severity and key.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if key, ok := v["key"].(string); ok {
			violation.Key = key
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold e.mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name+".rego", policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if _, exists := e.policies[policy.Name]; !exists {
		e.order = append(e.order, policy.Name)
	}
	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if builtins[i].Name == ProtectedKeysPolicy && len(e.protectedKeys) > 0 {
			builtins[i].Enabled = true
		}
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all policies in evaluation order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.order))
	for _, name := range e.order {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}
