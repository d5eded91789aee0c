package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/reconcilectl/pkg/diff"
	"github.com/openfroyo/reconcilectl/pkg/telemetry"
)

type fakeReconciler struct {
	name        string
	checkResult CheckResult
	applyResult CheckResult
	err         error
	checks      int
	applies     int
}

func (f *fakeReconciler) Name() string { return f.name }

func (f *fakeReconciler) Check(ctx context.Context) (CheckResult, error) {
	f.checks++
	return f.checkResult, f.err
}

func (f *fakeReconciler) Apply(ctx context.Context) (CheckResult, error) {
	f.applies++
	return f.applyResult, f.err
}

type fakeRecorder struct {
	started  []*RunReport
	results  map[string]CheckResult
	finished []RunStatus
	errs     []error
}

func (f *fakeRecorder) RecordRunStarted(ctx context.Context, report *RunReport) error {
	f.started = append(f.started, report)
	return nil
}

func (f *fakeRecorder) RecordReconcilerResult(ctx context.Context, runID string, mode Mode, name string, result CheckResult) error {
	if f.results == nil {
		f.results = make(map[string]CheckResult)
	}
	f.results[name] = result
	return nil
}

func (f *fakeRecorder) RecordRunFinished(ctx context.Context, report *RunReport, runErr error) error {
	f.finished = append(f.finished, report.Status)
	f.errs = append(f.errs, runErr)
	return nil
}

func newTestDriver(out *bytes.Buffer, opts ...DriverOption) *Driver {
	opts = append([]DriverOption{
		WithOutput(out),
		WithLogger(zerolog.Nop()),
	}, opts...)
	return NewDriver(opts...)
}

func TestDriver_NoReconcilers(t *testing.T) {
	for _, tt := range []struct {
		mode   Mode
		banner string
	}{
		{ModeCheck, "Found 0 stacks, checking...\n"},
		{ModeApply, "Found 0 stacks, applying...\n"},
	} {
		t.Run(string(tt.mode), func(t *testing.T) {
			var out bytes.Buffer
			driver := newTestDriver(&out)

			var report *RunReport
			var err error
			if tt.mode == ModeApply {
				report, err = driver.Apply(context.Background(), nil)
			} else {
				report, err = driver.Check(context.Background(), nil)
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.String() != tt.banner {
				t.Errorf("output = %q, want %q", out.String(), tt.banner)
			}
			if !report.Diff.IsEmpty() {
				t.Errorf("expected empty diff, got %s", report.Diff)
			}
			if report.Status != RunStatusSucceeded || report.Mode != tt.mode {
				t.Errorf("unexpected report: %+v", report)
			}
		})
	}
}

func TestDriver_JoinsWithoutCancellation(t *testing.T) {
	first := &fakeReconciler{
		name: "first",
		checkResult: DiffResult(diff.New().
			Add("foo", "bar").
			Add("same", "as").
			WithNested("nested", diff.New().Add("qwerty", "uiop").Add("new", "field"))),
	}
	second := &fakeReconciler{
		name:        "second",
		checkResult: DiffResult(diff.New().Delete("foo", "bar")),
	}

	var out bytes.Buffer
	report, err := newTestDriver(&out).Check(context.Background(), []Reconciler{first, second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := diff.New().
		Add("foo", "bar").
		Add("same", "as").
		WithNested("nested", diff.New().Add("qwerty", "uiop").Add("new", "field")).
		Delete("foo", "bar")
	if !report.Diff.Equal(want) {
		t.Errorf("aggregate =\n%s\nwant\n%s", report.Diff, want)
	}
	if !strings.Contains(out.String(), "Found 2 stacks") {
		t.Errorf("missing banner in %q", out.String())
	}
	if first.applies != 0 || second.applies != 0 {
		t.Error("check must not call Apply")
	}
}

func TestDriver_ApplyUsesApplyResults(t *testing.T) {
	r := &fakeReconciler{
		name:        "r",
		checkResult: DiffResult(diff.New().Add("a", 1)),
		applyResult: DiffResult(diff.New().Delete("b", 2)),
	}

	var out bytes.Buffer
	report, err := newTestDriver(&out).Apply(context.Background(), []Reconciler{r})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Diff.Equal(diff.New().Delete("b", 2)) {
		t.Errorf("unexpected aggregate:\n%s", report.Diff)
	}
	if r.checks != 0 || r.applies != 1 {
		t.Errorf("checks=%d applies=%d", r.checks, r.applies)
	}
}

func TestDriver_MessageResults(t *testing.T) {
	msg := &fakeReconciler{name: "msg", checkResult: MessageResult("connector stack is managed elsewhere")}
	d := &fakeReconciler{name: "d", checkResult: DiffResult(diff.New().Add("k", "v"))}

	var out bytes.Buffer
	report, err := newTestDriver(&out).Check(context.Background(), []Reconciler{msg, d})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "Found 2 stacks, checking...\nconnector stack is managed elsewhere\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if len(report.Messages) != 1 {
		t.Errorf("expected 1 message, got %v", report.Messages)
	}
	if !report.Diff.Equal(diff.New().Add("k", "v")) {
		t.Errorf("messages must not be joined into the diff:\n%s", report.Diff)
	}
}

func TestDriver_FailFast(t *testing.T) {
	cause := errors.New("api unreachable")
	ok := &fakeReconciler{name: "ok", checkResult: DiffResult(diff.New().Add("a", 1))}
	bad := &fakeReconciler{name: "bad", err: cause}
	never := &fakeReconciler{name: "never", checkResult: DiffResult(diff.New().Add("b", 2))}

	recorder := &fakeRecorder{}
	var out bytes.Buffer
	report, err := newTestDriver(&out, WithRecorder(recorder)).
		Check(context.Background(), []Reconciler{ok, bad, never})

	if err == nil {
		t.Fatal("expected error")
	}
	if report != nil {
		t.Errorf("expected no report on failure, got %+v", report)
	}
	if !IsReconcilerError(err) {
		t.Errorf("expected reconciler error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the reconciler's error to be wrapped")
	}
	if never.checks != 0 {
		t.Error("reconcilers after a failure must not be invoked")
	}
	if !strings.HasPrefix(out.String(), "Found 3 stacks, checking...") {
		t.Errorf("expected the banner before failure, got %q", out.String())
	}
	if len(recorder.finished) != 1 || recorder.finished[0] != RunStatusFailed {
		t.Errorf("expected a failed run to be recorded, got %v", recorder.finished)
	}
}

func TestDriver_Canceled(t *testing.T) {
	r := &fakeReconciler{name: "r", checkResult: DiffResult(diff.New())}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := newTestDriver(&out).Check(ctx, []Reconciler{r})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeCanceled {
		t.Errorf("expected CANCELED error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected context.Canceled in the chain")
	}
	if r.checks != 0 {
		t.Error("no reconciler should run after cancellation")
	}
}

func TestDriver_Recorder(t *testing.T) {
	a := &fakeReconciler{name: "a", checkResult: DiffResult(diff.New().Add("x", 1))}
	b := &fakeReconciler{name: "b", checkResult: MessageResult("hello")}

	recorder := &fakeRecorder{}
	var out bytes.Buffer
	driver := newTestDriver(&out,
		WithRecorder(recorder),
		WithSource("stacks.star"),
		WithRunIDGenerator(func() string { return "run-1" }),
	)

	report, err := driver.Check(context.Background(), []Reconciler{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.RunID != "run-1" || report.Source != "stacks.star" {
		t.Errorf("unexpected report identity: %+v", report)
	}
	if len(recorder.started) != 1 || recorder.started[0].RunID != "run-1" {
		t.Fatalf("expected run start to be recorded, got %v", recorder.started)
	}
	if len(recorder.results) != 2 {
		t.Errorf("expected 2 reconciler results, got %d", len(recorder.results))
	}
	if recorder.results["b"].Message != "hello" {
		t.Errorf("unexpected result for b: %+v", recorder.results["b"])
	}
	if len(recorder.finished) != 1 || recorder.finished[0] != RunStatusSucceeded || recorder.errs[0] != nil {
		t.Errorf("expected a succeeded run, got %v %v", recorder.finished, recorder.errs)
	}
	if report.CompletedAt.Before(report.StartedAt) {
		t.Error("CompletedAt must not precede StartedAt")
	}
}

func TestDriver_CheckIsIdempotent(t *testing.T) {
	r := &fakeReconciler{
		name:        "r",
		checkResult: DiffResult(diff.Compare(map[string]any{"a": 1}, map[string]any{"a": 2})),
	}

	var out bytes.Buffer
	driver := newTestDriver(&out)

	first, err := driver.Check(context.Background(), []Reconciler{r})
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	second, err := driver.Check(context.Background(), []Reconciler{r})
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !first.Diff.Equal(second.Diff) {
		t.Errorf("check results differ:\n%s\n---\n%s", first.Diff, second.Diff)
	}
}

func TestDriver_Telemetry(t *testing.T) {
	cfg := telemetry.DefaultConfig()
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	defer tel.Shutdown(context.Background())

	var types []string
	tel.Events.Subscribe(func(e telemetry.Event) {
		types = append(types, e.Type)
	}, nil)

	ctx := tel.WithContext(context.Background())
	r := &fakeReconciler{name: "r", checkResult: DiffResult(diff.New().Add("a", 1))}

	var out bytes.Buffer
	if _, err := newTestDriver(&out).Check(ctx, []Reconciler{r}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		telemetry.EventTypeRunStarted,
		telemetry.EventTypeReconcilerStarted,
		telemetry.EventTypeReconcilerCompleted,
		telemetry.EventTypeRunCompleted,
	}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", types, want)
	}
}
