package score

import (
	"fmt"
	"sync"
	"testing"
)

func TestSubtract(t *testing.T) {
	a := New(Initial)

	if got := a.Subtract(KeySPF, 3); got != 3 {
		t.Errorf("Subtract() = %v, want 3", got)
	}
	a.Subtract(KeyRDNS, 1)
	a.Subtract(KeyRBL, 1.5)

	if got := a.Score(); got != 4.5 {
		t.Errorf("Score() = %v, want 4.5", got)
	}

	b := a.Breakdown()
	want := map[string]float64{KeySPF: 3, KeyRDNS: 1, KeyRBL: 1.5}
	if len(b) != len(want) {
		t.Fatalf("Breakdown() = %v, want %v", b, want)
	}
	for k, v := range want {
		if b[k] != v {
			t.Errorf("Breakdown()[%q] = %v, want %v", k, b[k], v)
		}
	}
}

func TestSubtractRepeatedKey(t *testing.T) {
	a := New(Initial)
	a.Subtract(KeySPF, 1.5)
	a.Subtract(KeySPF, 3)

	if got := a.Score(); got != 5.5 {
		t.Errorf("Score() = %v, want 5.5", got)
	}
	if got := a.Breakdown()[KeySPF]; got != 3 {
		t.Errorf("Breakdown()[spf] = %v, want 3", got)
	}
}

func TestNoClamping(t *testing.T) {
	a := New(1)
	a.Subtract(KeyDKIM, 3)
	a.Subtract(KeySpamAssassin, 3)

	if got := a.Score(); got != -5 {
		t.Errorf("Score() = %v, want -5", got)
	}
}

func TestBreakdownIsCopy(t *testing.T) {
	a := New(Initial)
	a.Subtract(KeyMX, 1)

	b := a.Breakdown()
	b[KeyMX] = 100
	delete(b, KeyMX)

	if got := a.Breakdown()[KeyMX]; got != 1 {
		t.Errorf("accumulator changed through copy: %v", got)
	}
}

func TestConcurrentSubtract(t *testing.T) {
	a := New(1000)

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Subtract(fmt.Sprintf("check-%d", i), 2)
		}()
	}
	wg.Wait()

	if got := a.Score(); got != 600 {
		t.Errorf("Score() = %v, want 600", got)
	}
	if got := len(a.Breakdown()); got != 200 {
		t.Errorf("len(Breakdown()) = %d, want 200", got)
	}
}

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"spamassassin", w.SpamAssassin, 3},
		{"spf error", w.SPFError, 3},
		{"spf warning", w.SPFWarning, 1.5},
		{"mx warning", w.MXWarning, 1},
		{"rdns warning", w.RDNSWarning, 1},
		{"dkim missing", w.DKIMMissing, 1},
		{"dkim error", w.DKIMError, 3},
		{"rbl listed", w.RBLListed, 1.5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}
