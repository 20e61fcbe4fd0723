package hw

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/muurk/sensornode/internal/clock"
	"github.com/muurk/sensornode/internal/input"
)

type fakeOutput struct {
	mu     sync.Mutex
	values []int
	err    error
}

func (f *fakeOutput) SetValue(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values = append(f.values, v)
	return nil
}

func (f *fakeOutput) last() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.values) == 0 {
		return -1
	}
	return f.values[len(f.values)-1]
}

func TestDefaultPatterns(t *testing.T) {
	table := DefaultPatterns()

	for _, p := range []Pattern{PatternConnecting, PatternProvisioning, PatternFactoryReset, PatternOTA, PatternError} {
		if _, ok := table[p]; !ok {
			t.Errorf("pattern %q missing from embedded table", p)
		}
	}
	if table[PatternOTA].On != 250*time.Millisecond {
		t.Errorf("ota on = %v, want 250ms", table[PatternOTA].On)
	}
	if table[PatternError].Repeat != 3 {
		t.Errorf("error repeat = %d, want 3", table[PatternError].Repeat)
	}
}

func TestParsePatternsRejectsZero(t *testing.T) {
	_, err := ParsePatterns([]byte("patterns:\n  bad:\n    on: 0s\n    off: 1s\n"))
	if err == nil {
		t.Error("ParsePatterns() should reject a zero on-time")
	}
}

func TestBlinkerStackAndBlink(t *testing.T) {
	out := &fakeOutput{}
	clk := clock.Fake(time.Unix(0, 0))
	b := NewBlinker(out, DefaultPatterns(), clk)

	if err := b.Start(PatternConnecting); err != nil {
		t.Fatal(err)
	}
	if out.last() != 1 {
		t.Errorf("LED = %d after start, want 1", out.last())
	}

	clk.Advance(500 * time.Millisecond)
	if out.last() != 0 {
		t.Errorf("LED = %d after on-phase, want 0", out.last())
	}

	if err := b.Start(PatternProvisioning); err != nil {
		t.Fatal(err)
	}
	if p, _ := b.Active(); p != PatternProvisioning {
		t.Errorf("Active() = %q, want provisioning", p)
	}

	if err := b.Stop(PatternProvisioning); err != nil {
		t.Fatal(err)
	}
	if p, _ := b.Active(); p != PatternConnecting {
		t.Errorf("Active() after stop = %q, want connecting", p)
	}

	if err := b.Stop(PatternConnecting); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.Active(); ok {
		t.Error("no pattern should be active")
	}
	if out.last() != 0 {
		t.Errorf("LED = %d with nothing active, want 0", out.last())
	}
}

func TestBlinkerRepeatLimit(t *testing.T) {
	out := &fakeOutput{}
	clk := clock.Fake(time.Unix(0, 0))
	b := NewBlinker(out, DefaultPatterns(), clk)

	_ = b.Start(PatternError)
	clk.Advance(10 * time.Second)

	if _, ok := b.Active(); ok {
		t.Error("error pattern should end after its repeat count")
	}
	if out.last() != 0 {
		t.Errorf("LED = %d after pattern ended, want 0", out.last())
	}
}

func TestBlinkerErrors(t *testing.T) {
	out := &fakeOutput{err: errors.New("line busy")}
	b := NewBlinker(out, DefaultPatterns(), clock.Fake(time.Unix(0, 0)))

	if err := b.Start(PatternOTA); !input.IsIndicatorError(err) {
		t.Errorf("Start() error = %v, want indicator error", err)
	}
	if err := b.Start("disco"); !input.IsIndicatorError(err) {
		t.Errorf("Start(unknown) error = %v, want indicator error", err)
	}
}
