package loopdetect

import (
	"fmt"
	"testing"
)

func TestConsecutiveThreshold(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("threshold=%d", n), func(t *testing.T) {
			d := New(Config{MaxRepeats: n})
			args := map[string]any{"command": "ls"}

			for i := 1; i <= n; i++ {
				d.Record("shell", args)
				if _, looping := d.Check(); looping {
					t.Fatalf("Check() flagged loop after %d calls, threshold %d", i, n)
				}
			}

			d.Record("shell", args)
			l, looping := d.Check()
			if !looping {
				t.Fatalf("Check() did not flag loop after %d calls", n+1)
			}
			if l.Period != 1 || l.Count != n+1 {
				t.Errorf("Check() = %+v, want period 1 count %d", l, n+1)
			}
		})
	}
}

func TestDifferentArgumentsNotLoop(t *testing.T) {
	d := New(Config{MaxRepeats: 2})
	for i := range 10 {
		d.Record("read_file", map[string]any{"path": fmt.Sprintf("f%d.go", i)})
		if l, looping := d.Check(); looping {
			t.Fatalf("Check() = %+v on distinct calls", l)
		}
	}
}

func TestFingerprintIgnoresKeyOrder(t *testing.T) {
	a := Fingerprint("grep", map[string]any{"pattern": "x", "path": "."})
	b := Fingerprint("grep", map[string]any{"path": ".", "pattern": "x"})
	if a != b {
		t.Errorf("Fingerprint differs by key order: %s vs %s", a, b)
	}
	if a == Fingerprint("glob", map[string]any{"pattern": "x", "path": "."}) {
		t.Error("Fingerprint ignores tool name")
	}
}

func TestCycleDetection(t *testing.T) {
	tests := []struct {
		name   string
		cycle  []string
		reps   int
		repeat int
		want   bool
	}{
		{"period 2 at threshold", []string{"a", "b"}, 3, 3, false},
		{"period 2 over threshold", []string{"a", "b"}, 4, 3, true},
		{"period 3 over threshold", []string{"a", "b", "c"}, 4, 3, true},
		{"period 4 over threshold", []string{"a", "b", "c", "d"}, 4, 3, true},
		{"period 4 at threshold", []string{"a", "b", "c", "d"}, 3, 3, false},
		{"period 5 ignored", []string{"a", "b", "c", "d", "e"}, 4, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Config{CycleRepeats: tt.repeat, MaxRepeats: 10})
			for range tt.reps {
				for _, name := range tt.cycle {
					d.Record(name, nil)
				}
			}
			l, got := d.Check()
			if got != tt.want {
				t.Fatalf("Check() = %+v, %v; want %v", l, got, tt.want)
			}
			if got && l.Period != len(tt.cycle) {
				t.Errorf("Period = %d, want %d", l.Period, len(tt.cycle))
			}
		})
	}
}

func TestHistoryBounded(t *testing.T) {
	d := New(Config{HistorySize: 20})
	for i := range 100 {
		d.Record("t", map[string]any{"i": i})
	}
	if d.Len() != 20 {
		t.Errorf("Len() = %d, want 20", d.Len())
	}
}

func TestHistoryGrowsToFitThresholds(t *testing.T) {
	d := New(Config{HistorySize: 2, CycleRepeats: 3})
	if got := d.Config().HistorySize; got < 16 {
		t.Errorf("HistorySize = %d, want at least 16", got)
	}
}

func TestClear(t *testing.T) {
	d := New(Config{MaxRepeats: 1})
	d.Record("shell", nil)
	d.Record("shell", nil)
	if _, looping := d.Check(); !looping {
		t.Fatal("expected loop before Clear")
	}
	d.Clear()
	if d.Len() != 0 {
		t.Errorf("Len() after Clear = %d", d.Len())
	}
	if _, looping := d.Check(); looping {
		t.Error("Check() flagged loop after Clear")
	}
}
