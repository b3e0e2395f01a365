package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BadgerOps/liveinstall/internal/progress"
)

// fiveStages builds stages 1..5 with equal windows. failing maps a stage
// number to the error it returns; nonFatal marks stages allowed to fail.
func fiveStages(ran *[]string, failing map[int]error, nonFatal map[int]bool) []Stage {
	names := []string{"one", "two", "three", "four", "five"}
	var stages []Stage
	for i, name := range names {
		n, name := i+1, name
		stages = append(stages, Stage{
			Name:  name,
			Start: i * 20,
			End:   (i + 1) * 20,
			Fatal: !nonFatal[n],
			Run: func(context.Context) error {
				*ran = append(*ran, name)
				return failing[n]
			},
		})
	}
	return stages
}

func TestSequencerNonFatalFailureContinues(t *testing.T) {
	var ran []string
	cleanups := 0
	rec := &progress.Recorder{}
	seq := NewSequencer("title", fiveStages(&ran, map[int]error{3: errors.New("langpacks broke")}, map[int]bool{3: true}), rec, nil)
	seq.Cleanup = func() { cleanups++ }

	if err := seq.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v, want success", err)
	}
	if diff := cmp.Diff([]string{"one", "two", "three", "four", "five"}, ran); diff != "" {
		t.Errorf("stages run (-want +got):\n%s", diff)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", cleanups)
	}
	if st, _ := seq.State(); st != StateCompleted {
		t.Errorf("State() = %v, want completed", st)
	}
	statuses := map[string]string{}
	for _, r := range seq.Results() {
		statuses[r.Stage] = r.Status()
	}
	if statuses["three"] != "ignored" || statuses["five"] != "succeeded" {
		t.Errorf("statuses = %v", statuses)
	}
	vals := rec.Values()
	if len(vals) == 0 || vals[len(vals)-1] != 100 {
		t.Errorf("final SET = %v, want 100", vals)
	}
	if rec.Count(progress.KindStart) != 1 || rec.Count(progress.KindStop) != 1 {
		t.Errorf("START/STOP = %d/%d, want 1/1", rec.Count(progress.KindStart), rec.Count(progress.KindStop))
	}
}

func TestSequencerFatalFailureStops(t *testing.T) {
	for failing := 1; failing <= 5; failing++ {
		if failing == 3 {
			continue
		}
		var ran []string
		cleanups := 0
		boom := errors.New("boom")
		seq := NewSequencer("title", fiveStages(&ran, map[int]error{failing: boom}, map[int]bool{3: true}), nil, nil)
		seq.Cleanup = func() { cleanups++ }

		err := seq.Run(context.Background())
		var ie *InstallError
		if !errors.As(err, &ie) || !errors.Is(err, boom) {
			t.Fatalf("stage %d: Run() = %v, want InstallError wrapping boom", failing, err)
		}
		if ie.Stage != ran[len(ran)-1] {
			t.Errorf("stage %d: InstallError.Stage = %s, last ran %s", failing, ie.Stage, ran[len(ran)-1])
		}
		if len(ran) != failing {
			t.Errorf("stage %d: ran %v, want nothing after the failure", failing, ran)
		}
		if cleanups != 1 {
			t.Errorf("stage %d: cleanup ran %d times", failing, cleanups)
		}
		if st, name := seq.State(); st != StateFailed || name != ie.Stage {
			t.Errorf("stage %d: State() = %v %s", failing, st, name)
		}
	}
}

func TestSequencerCancellationPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran []string
	cleanups := 0
	stages := fiveStages(&ran, nil, map[int]bool{2: true})
	stages[1].Run = func(ctx context.Context) error {
		ran = append(ran, "two")
		cancel()
		return ctx.Err()
	}
	seq := NewSequencer("title", stages, nil, nil)
	seq.Cleanup = func() { cleanups++ }

	err := seq.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	var ie *InstallError
	if errors.As(err, &ie) {
		t.Error("cancellation must not be reported as a stage failure")
	}
	if diff := cmp.Diff([]string{"one", "two"}, ran); diff != "" {
		t.Errorf("stages run (-want +got):\n%s", diff)
	}
	if cleanups != 1 {
		t.Errorf("cleanup ran %d times", cleanups)
	}
}

func TestSequencerCleanupOnPanic(t *testing.T) {
	cleanups := 0
	rec := &progress.Recorder{}
	seq := NewSequencer("title", []Stage{{
		Name: "explode", Start: 0, End: 100, Fatal: true,
		Run: func(context.Context) error { panic("kaboom") },
	}}, rec, nil)
	seq.Cleanup = func() { cleanups++ }

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()
		_ = seq.Run(context.Background())
	}()
	if cleanups != 1 || rec.Count(progress.KindStop) != 1 {
		t.Errorf("cleanup = %d, STOP = %d; want 1, 1", cleanups, rec.Count(progress.KindStop))
	}
}

func TestSequencerProgressWindows(t *testing.T) {
	rec := &progress.Recorder{}
	noop := func(context.Context) error { return nil }
	seq := NewSequencer("liveinstall/install/title", []Stage{
		{Name: "copy", Start: 1, End: 78, Fatal: true, Run: noop},
		{Name: "locales", Start: 80, End: 81, Info: "liveinstall/install/locales", Fatal: true, Run: noop},
		{Name: "cleanup", Start: 100, End: 100, Fatal: true, Run: noop},
	}, rec, nil)
	if err := seq.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range rec.Events() {
		got = append(got, e.String())
	}
	want := []string{
		"START 0 100 liveinstall/install/title",
		"SET 1",
		"REGION 1 78",
		"SET 80",
		"REGION 80 81",
		"INFO liveinstall/install/locales",
		"SET 100",
		"SET 100",
		"STOP",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"copy", "locales", "cleanup"}, rec.Stages()); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
}

func TestSequencerValidate(t *testing.T) {
	noop := func(context.Context) error { return nil }
	tests := []struct {
		name   string
		stages []Stage
	}{
		{"overlap", []Stage{{Name: "a", Start: 0, End: 50, Run: noop}, {Name: "b", Start: 40, End: 60, Run: noop}}},
		{"reversed", []Stage{{Name: "a", Start: 50, End: 40, Run: noop}}},
		{"too far", []Stage{{Name: "a", Start: 90, End: 101, Run: noop}}},
		{"duplicate", []Stage{{Name: "a", Run: noop}, {Name: "a", Run: noop}}},
		{"no run", []Stage{{Name: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanups := 0
			seq := NewSequencer("t", tt.stages, nil, nil)
			seq.Cleanup = func() { cleanups++ }
			if err := seq.Run(context.Background()); err == nil {
				t.Error("Run() accepted invalid stages")
			}
			if cleanups != 0 {
				t.Error("cleanup ran although nothing started")
			}
		})
	}
}

func TestSequencerRunsOnce(t *testing.T) {
	seq := NewSequencer("t", nil, nil, nil)
	if err := seq.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := seq.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run() = %v, want ErrAlreadyRun", err)
	}
}

func TestStageFailureMessages(t *testing.T) {
	tests := []struct {
		err  *StageFailure
		want string
	}{
		{&StageFailure{Stage: "locales", Code: 3}, "locales failed with code 3"},
		{&StageFailure{Stage: "bootloader", Err: ErrNoBootloader}, "bootloader failed: no bootloader installer found"},
		{&StageFailure{Stage: "user", Code: 1, Err: errors.New("x")}, "user failed with code 1: x"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
