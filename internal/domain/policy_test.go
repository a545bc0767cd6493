package domain

import (
	"math/rand"
	"testing"
	"time"
)

func TestRetryPolicyValidate(t *testing.T) {
	cases := []struct {
		name    string
		p       *RetryPolicy
		wantErr bool
	}{
		{"nil policy", nil, false},
		{"negative retries", &RetryPolicy{Retries: -1}, true},
		{"negative interval", &RetryPolicy{IntervalMs: -1}, true},
		{"maxInterval below interval", &RetryPolicy{IntervalMs: 100, MaxIntervalMs: 50}, true},
		{"valid", &RetryPolicy{Retries: 2, IntervalMs: 10, MaxIntervalMs: 100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRetryPolicyAllows(t *testing.T) {
	var empty *RetryPolicy
	if !empty.Allows(CodeTimeout) {
		t.Fatal("nil policy should allow any code")
	}
	open := &RetryPolicy{}
	if !open.Allows(CodeTimeout) {
		t.Fatal("empty RetryOn should allow any code")
	}
	scoped := &RetryPolicy{RetryOn: []string{string(CodeTimeout)}}
	if !scoped.Allows(CodeTimeout) {
		t.Fatal("RetryOn should allow a listed code")
	}
	if scoped.Allows(CodeNetworkFailed) {
		t.Fatal("RetryOn should reject an unlisted code")
	}
}

func TestRetryPolicyDelayBackoffCurves(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	none := &RetryPolicy{IntervalMs: 10, Backoff: BackoffNone}
	if got := none.Delay(3, rng); got != 10*time.Millisecond {
		t.Fatalf("none backoff = %v, want 10ms", got)
	}

	linear := &RetryPolicy{IntervalMs: 10, Backoff: BackoffLinear}
	if got := linear.Delay(3, rng); got != 30*time.Millisecond {
		t.Fatalf("linear backoff attempt=3 = %v, want 30ms", got)
	}

	exp := &RetryPolicy{IntervalMs: 10, Backoff: BackoffExp}
	if got := exp.Delay(1, rng); got != 10*time.Millisecond {
		t.Fatalf("exp backoff attempt=1 = %v, want 10ms", got)
	}
	if got := exp.Delay(2, rng); got != 20*time.Millisecond {
		t.Fatalf("exp backoff attempt=2 = %v, want 20ms", got)
	}
	if got := exp.Delay(3, rng); got != 40*time.Millisecond {
		t.Fatalf("exp backoff attempt=3 = %v, want 40ms", got)
	}
}

func TestRetryPolicyDelayClampsToMaxInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := &RetryPolicy{IntervalMs: 100, Backoff: BackoffExp, MaxIntervalMs: 150}
	if got := p.Delay(4, rng); got != 150*time.Millisecond {
		t.Fatalf("Delay() = %v, want clamped 150ms", got)
	}
}

func TestRetryPolicyDelayFullJitterStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := &RetryPolicy{IntervalMs: 100, Backoff: BackoffNone, Jitter: JitterFull}
	for i := 0; i < 20; i++ {
		got := p.Delay(1, rng)
		if got < 0 || got > 100*time.Millisecond {
			t.Fatalf("jittered delay %v out of [0, 100ms]", got)
		}
	}
}

func TestMergeRetry(t *testing.T) {
	if got := MergeRetry(nil, nil); got != nil {
		t.Fatalf("MergeRetry(nil, nil) = %+v, want nil", got)
	}
	base := &RetryPolicy{Retries: 2, IntervalMs: 10, Backoff: BackoffNone}
	if got := MergeRetry(base, nil); got != base {
		t.Fatalf("MergeRetry(base, nil) should return base unchanged")
	}
	override := &RetryPolicy{Retries: 5}
	merged := MergeRetry(base, override)
	if merged.Retries != 5 {
		t.Fatalf("merged.Retries = %d, want 5 (overridden)", merged.Retries)
	}
	if merged.IntervalMs != 10 {
		t.Fatalf("merged.IntervalMs = %d, want 10 (inherited from base)", merged.IntervalMs)
	}
	if base.Retries != 2 {
		t.Fatal("MergeRetry must not mutate base")
	}
}
