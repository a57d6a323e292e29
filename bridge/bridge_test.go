package bridge

import (
	"context"
	"errors"
	"testing"
)

type failingAdapter struct {
	NopLifecycle
	panicOn string
	calls   int
}

func (a *failingAdapter) ServiceName() string { return "failing" }

func (a *failingAdapter) SendUpdate(context.Context, string, Update) error {
	a.calls++
	if a.panicOn == "update" {
		panic("boom")
	}
	return errors.New("network down")
}

func (a *failingAdapter) SendCompletion(context.Context, string, string, string) error {
	a.calls++
	if a.panicOn == "completion" {
		panic("boom")
	}
	return errors.New("network down")
}

func (a *failingAdapter) SendError(context.Context, string, string) error {
	a.calls++
	return errors.New("network down")
}

func TestNotifier_SwallowsErrorsAndPanics(t *testing.T) {
	for _, panicOn := range []string{"", "update", "completion"} {
		a := &failingAdapter{panicOn: panicOn}
		n := NewNotifier(a)
		ctx := context.Background()

		n.Update(ctx, "s1", Update{Type: UpdateThought, Content: "x"})
		n.Completion(ctx, "s1", "done", "")
		n.Error(ctx, "s1", "oops")

		if a.calls != 3 {
			t.Errorf("panicOn=%q: adapter called %d times, want 3", panicOn, a.calls)
		}
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder("api")
	n := NewNotifier(r)
	ctx := context.Background()

	n.Update(ctx, "s1", Update{Type: UpdateThought, Content: "Starting work..."})
	n.Completion(ctx, "s1", "done", "https://bridge/sessions/a")
	n.Error(ctx, "s2", "failed")

	if got := r.Updates("s1"); len(got) != 1 || got[0].Content != "Starting work..." {
		t.Errorf("Updates = %+v", got)
	}
	if got := r.Completions("s1"); len(got) != 1 || got[0].SessionURL != "https://bridge/sessions/a" {
		t.Errorf("Completions = %+v", got)
	}
	if r.Outcomes("s1") != 1 || r.Outcomes("s2") != 1 {
		t.Errorf("Outcomes = %d, %d", r.Outcomes("s1"), r.Outcomes("s2"))
	}
	if n.Adapter() != Adapter(r) {
		t.Error("Adapter should return the wrapped adapter")
	}
}
