// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pipeline is the fixed-size source/worker/drain thread pool of
// spec.md §4.8: the source runs on the calling goroutine, the drain on a
// goroutine of its own, N worker goroutines apply a transform to whatever the source yields, and the
// drain sees results strictly in source order regardless of which worker
// finished which batch first.
//
// Grounded on encoding/bam/shardedbam.go's ShardedBAMWriter (teacher):
// same out-of-order-completion, in-order-emission shape, using the same
// github.com/grailbio/base/syncqueue.OrderedQueue the teacher uses for
// it. Where the teacher's own queues are a hand-rolled spin/CAS ring
// buffer (see DESIGN.md), this package uses a buffered channel instead —
// Go's scheduler already does what that spin loop is approximating, and
// the channel's capacity is the upper bound ub of the spec's [lb, ub]
// in-flight window.
package pipeline

import (
	"sync"

	"github.com/grailbio/base/syncqueue"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// highWaterFactor expresses the ub of spec.md §4.8's "[lb=2N, ub=8N]"
// in-flight batch window. With a buffered channel, lb has no
// separate meaning (there's no explicit resume threshold to cross) — the
// channel capacity is set to ub and a blocked source send is the
// backpressure signal on its own.
const highWaterFactor = 8

// Batch is one unit of work in flight: an opaque caller payload tagged
// with the monotonically increasing ID that fixes its place in the
// drain's emission order.
type Batch struct {
	ID      int64
	Payload interface{}
}

// Source yields the next batch's payload, or ok=false once exhausted.
// Called only from the goroutine that invoked Run.
type Source func() (payload interface{}, ok bool)

// Worker transforms one batch's payload. tid is the worker's 0-based
// index, stable for the life of the Run call, so a worker may use it to
// index into its own thread-local scratch state (spec.md §5's
// "thread-local mapping buffer").
type Worker func(tid int, payload interface{}) (interface{}, error)

// Drain consumes one transformed payload. Called strictly in source
// order, from a single goroutine, never concurrently with itself.
type Drain func(payload interface{}) error

// Run starts n worker goroutines (n<1 is treated as 1), feeds them
// everything source yields, and calls drain on each transformed payload
// in source order. It blocks until the source is exhausted, every batch
// has drained, and returns the first error any worker or drain call
// produced (nil if none did).
//
// Ordering guarantee (spec.md §4.8): drain is called strictly in source
// order. Worker invocations across batches are unordered; there is no
// per-task cancellation, so a batch that's already started runs to
// completion even after a sibling has failed.
func Run(n int, source Source, worker Worker, drain Drain) error {
	if n < 1 {
		n = 1
	}
	capacity := n * highWaterFactor
	work := make(chan Batch, capacity)
	queue := syncqueue.NewOrderedQueue(capacity)

	var once sync.Once
	var firstErr error
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			vlog.VI(1).Infof("pipeline: aborting on first error: %v", err)
			queue.Close(err)
		})
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for tid := 0; tid < n; tid++ {
		go func(tid int) {
			defer wg.Done()
			for b := range work {
				out, err := worker(tid, b.Payload)
				if err != nil {
					fail(errors.Wrapf(err, "pipeline: worker %d failed on batch %d", tid, b.ID))
					continue
				}
				if err := queue.Insert(int(b.ID), out); err != nil {
					fail(errors.Wrap(err, "pipeline: ordered queue insert failed"))
				}
			}
		}(tid)
	}

	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		for {
			v, ok, err := queue.Next()
			if err != nil {
				fail(err)
				return
			}
			if !ok {
				return
			}
			if err := drain(v); err != nil {
				fail(errors.Wrap(err, "pipeline: drain failed"))
				return
			}
		}
	}()

	var id int64
	for {
		payload, ok := source()
		if !ok {
			break
		}
		work <- Batch{ID: id, Payload: payload}
		id++
	}
	close(work)
	wg.Wait()
	once.Do(func() { queue.Close(nil) })
	<-drainDone

	return firstErr
}
