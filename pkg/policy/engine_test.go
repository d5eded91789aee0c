package policy

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/engine"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

// deletes returns a diff deleting n top-level keys.
func deletes(n int) diff.Diff {
	d := diff.New()
	for i := 0; i < n; i++ {
		d = d.Delete(string(rune('a'+i)), i)
	}
	return d
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	enabled := map[string]bool{}
	for _, p := range eng.ListPolicies() {
		names = append(names, p.Name)
		enabled[p.Name] = p.Enabled
	}

	if diff := cmp.Diff([]string{NoMassDeletePolicy, ProtectedKeysPolicy}, names); diff != "" {
		t.Errorf("built-in policies mismatch (-want +got):\n%s", diff)
	}
	if !enabled[NoMassDeletePolicy] || enabled[ProtectedKeysPolicy] {
		t.Errorf("unexpected enabled state: %v", enabled)
	}
}

func TestEvaluateDiff_NoMassDelete(t *testing.T) {
	tests := []struct {
		name           string
		opts           []Option
		diff           diff.Diff
		wantViolations int
	}{
		{"empty diff", nil, diff.New(), 0},
		{"at the limit", nil, deletes(DefaultMaxDeletes), 0},
		{"over the limit", nil, deletes(DefaultMaxDeletes + 1), 1},
		{"custom limit", []Option{WithMaxDeletes(2)}, deletes(3), 1},
		{"nested deletes count", []Option{WithMaxDeletes(1)}, diff.New().WithNested("db", deletes(2)), 1},
		{"adds do not count", []Option{WithMaxDeletes(0)}, diff.New().Add("a", 1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, tt.opts...)
			result, err := eng.EvaluateDiff(context.Background(), tt.diff, engine.ModeApply)
			if err != nil {
				t.Fatalf("EvaluateDiff() error = %v", err)
			}
			if len(result.Violations) != tt.wantViolations {
				t.Fatalf("violations = %+v, want %d", result.Violations, tt.wantViolations)
			}
			// Warnings never deny.
			if !result.Allowed {
				t.Error("no-mass-delete violations should not deny")
			}
			for _, v := range result.Violations {
				if v.Policy != NoMassDeletePolicy || v.Severity != SeverityWarning {
					t.Errorf("unexpected violation: %+v", v)
				}
			}
		})
	}
}

func TestEvaluateDiff_ProtectedKeys(t *testing.T) {
	tests := []struct {
		name     string
		diff     diff.Diff
		wantKeys []string
	}{
		{
			name:     "add is allowed",
			diff:     diff.New().Add("secrets", "x"),
			wantKeys: nil,
		},
		{
			name:     "modify of protected key",
			diff:     diff.New().Modify("secrets", "old", "new"),
			wantKeys: []string{"secrets"},
		},
		{
			name:     "delete below protected key",
			diff:     diff.New().WithNested("db", diff.New().Delete("password", "hunter2").Add("port", 5432)),
			wantKeys: []string{"db.password"},
		},
		{
			name:     "prefix of another key is not covered",
			diff:     diff.New().Modify("secrets_backup", 1, 2),
			wantKeys: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, WithProtectedKeys("secrets", "db.password"))
			result, err := eng.EvaluateDiff(context.Background(), tt.diff, engine.ModeApply)
			if err != nil {
				t.Fatalf("EvaluateDiff() error = %v", err)
			}

			var keys []string
			for _, v := range result.Violations {
				if v.Policy == ProtectedKeysPolicy {
					keys = append(keys, v.Key)
				}
			}
			if diff := cmp.Diff(tt.wantKeys, keys); diff != "" {
				t.Errorf("protected keys mismatch (-want +got):\n%s", diff)
			}
			if result.Allowed != (len(tt.wantKeys) == 0) {
				t.Errorf("Allowed = %v", result.Allowed)
			}
		})
	}
}

func TestEnforce(t *testing.T) {
	eng := newTestEngine(t, WithProtectedKeys("secrets"))

	result, err := eng.Enforce(context.Background(), diff.New().Add("a", 1), engine.ModeApply)
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if !result.Allowed {
		t.Error("expected the diff to be allowed")
	}

	result, err = eng.Enforce(context.Background(), diff.New().Delete("secrets", "x"), engine.ModeApply)
	if err == nil {
		t.Fatal("expected a policy denial")
	}
	if !engine.IsPolicyDenied(err) || !engine.IsPermanent(err) {
		t.Errorf("expected a permanent POLICY_DENIED error, got %v", err)
	}
	if result == nil || len(result.Blocking()) != 1 {
		t.Errorf("the result is returned with the error: %+v", result)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t, WithMaxDeletes(0))
	ctx := context.Background()

	if err := eng.DisablePolicy(NoMassDeletePolicy); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}
	result, err := eng.EvaluateDiff(ctx, deletes(1), engine.ModeApply)
	if err != nil {
		t.Fatalf("EvaluateDiff() error = %v", err)
	}
	if len(result.Violations) != 0 || len(result.EvaluatedPolicies) != 0 {
		t.Errorf("disabled policies are not evaluated: %+v", result)
	}

	if err := eng.EnablePolicy(NoMassDeletePolicy); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	result, err = eng.EvaluateDiff(ctx, deletes(1), engine.ModeApply)
	if err != nil {
		t.Fatalf("EvaluateDiff() error = %v", err)
	}
	if len(result.Violations) != 1 {
		t.Errorf("expected 1 violation after enabling, got %+v", result.Violations)
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected an error for an unknown policy")
	}
	if _, err := eng.GetPolicy("missing"); err == nil {
		t.Error("expected an error for an unknown policy")
	}
}

func TestAddPolicy_CustomRego(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:     "check-only",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.mode

import rego.v1

deny contains msg if {
	input.mode != "apply"
	msg := sprintf("mode %s is not gated", [input.mode])
}`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	result, err := eng.EvaluateDiff(ctx, diff.New(), engine.ModeCheck)
	if err != nil {
		t.Fatalf("EvaluateDiff() error = %v", err)
	}
	want := []Violation{{Policy: "check-only", Message: "mode check is not gated", Severity: SeverityError}}
	if diff := cmp.Diff(want, result.Violations); diff != "" {
		t.Errorf("violations mismatch (-want +got):\n%s", diff)
	}
	if result.Allowed {
		t.Error("an error-severity string violation should deny")
	}

	if err := eng.AddPolicy(ctx, Policy{Name: "broken", Rego: "package broken\n deny contains"}); err == nil {
		t.Error("expected a compile error")
	}
}

func TestEvaluateDiff_PublishesViolations(t *testing.T) {
	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	var published []telemetry.Event
	tel.Events.Subscribe(func(e telemetry.Event) { published = append(published, e) },
		telemetry.FilterByType(telemetry.EventTypePolicyViolation))

	eng := newTestEngine(t, WithProtectedKeys("secrets"))
	ctx := tel.WithContext(context.Background())
	if _, err := eng.EvaluateDiff(ctx, diff.New().Delete("secrets", 1), engine.ModeApply); err != nil {
		t.Fatalf("EvaluateDiff() error = %v", err)
	}

	if len(published) != 1 || published[0].Level != telemetry.EventLevelError {
		t.Errorf("expected one error-level policy event, got %+v", published)
	}
}

func TestFlatten(t *testing.T) {
	d := diff.New().
		Add("a", 1).
		WithNested("b", diff.New().Modify("c", 1, 2).WithNested("d", diff.New().Delete("e", true)))

	got := flatten(d, "", []Change{})
	want := []Change{
		{Key: "a", Kind: "add", New: 1},
		{Key: "b.c", Kind: "modify", Old: 1, New: 2},
		{Key: "b.d.e", Kind: "delete", Old: true},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flatten mismatch (-want +got):\n%s", diff)
	}
}
