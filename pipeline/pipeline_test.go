// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pipeline

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

// TestEmissionOrderMatchesSourceOrder exercises invariant 7: pipeline
// emission order equals source order, for any N>=1 — even though
// workers finish out of order (the delay below is deliberately inverted
// so later batches tend to finish first).
func TestEmissionOrderMatchesSourceOrder(t *testing.T) {
	const nBatches = 200
	for _, n := range []int{1, 2, 4, 8} {
		n := n
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			next := 0
			source := func() (interface{}, bool) {
				if next >= nBatches {
					return nil, false
				}
				v := next
				next++
				return v, true
			}
			worker := func(tid int, payload interface{}) (interface{}, error) {
				v := payload.(int)
				time.Sleep(time.Duration(nBatches-v) * time.Microsecond)
				return v * 2, nil
			}
			var got []int
			drain := func(payload interface{}) error {
				got = append(got, payload.(int))
				return nil
			}
			if err := Run(n, source, worker, drain); err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if len(got) != nBatches {
				t.Fatalf("got %d drained batches, want %d", len(got), nBatches)
			}
			for i, v := range got {
				if v != i*2 {
					t.Fatalf("drain order broken at position %d: got %d, want %d", i, v, i*2)
				}
			}
		})
	}
}

func TestRunPropagatesWorkerError(t *testing.T) {
	next := 0
	source := func() (interface{}, bool) {
		if next >= 10 {
			return nil, false
		}
		v := next
		next++
		return v, true
	}
	wantErr := fmt.Errorf("boom")
	worker := func(tid int, payload interface{}) (interface{}, error) {
		if payload.(int) == 5 {
			return nil, wantErr
		}
		return payload, nil
	}
	drain := func(payload interface{}) error { return nil }

	err := Run(4, source, worker, drain)
	if err == nil {
		t.Fatal("expected an error from Run, got nil")
	}
}

func TestRunPropagatesDrainError(t *testing.T) {
	next := 0
	source := func() (interface{}, bool) {
		if next >= 10 {
			return nil, false
		}
		v := next
		next++
		return v, true
	}
	worker := func(tid int, payload interface{}) (interface{}, error) { return payload, nil }
	var calls int32
	wantErr := fmt.Errorf("drain boom")
	drain := func(payload interface{}) error {
		if atomic.AddInt32(&calls, 1) == 3 {
			return wantErr
		}
		return nil
	}

	if err := Run(4, source, worker, drain); err == nil {
		t.Fatal("expected an error from Run, got nil")
	}
}

func TestRunEmptySource(t *testing.T) {
	source := func() (interface{}, bool) { return nil, false }
	worker := func(tid int, payload interface{}) (interface{}, error) { return payload, nil }
	called := false
	drain := func(payload interface{}) error { called = true; return nil }
	if err := Run(4, source, worker, drain); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Fatal("drain should never be called for an empty source")
	}
}
