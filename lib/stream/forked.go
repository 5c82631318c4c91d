// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"runtime"
	"sync"

	"github.com/kwiberg/frz/lib/worker"
)

// ForkDecision is the caller's answer to PrimaryDone: what to do with
// the secondary sink once the primary has consumed every byte.
type ForkDecision int

const (
	// Finish means: rewind the source to the position where secondary
	// feeding was last abandoned (if any), and finish feeding the
	// secondary from there through to end-of-stream.
	Finish ForkDecision = iota

	// Abandon means: stop feeding the secondary immediately. The
	// secondary never sees the remainder of the stream.
	Abandon
)

// secondaryState models the three-state machine from the design notes:
// a secondary sink is Running while it is still receiving bytes (or
// caught up and waiting), Abandoned once cancelled, or Rewinding while
// the engine replays bytes the secondary missed during a stall.
type secondaryState int

const (
	secondaryRunning secondaryState = iota
	secondaryRewinding
	secondaryAbandoned
)

// ForkedStreamOptions configures RunForkedStream.
type ForkedStreamOptions struct {
	// Source is shared by both sinks. Only RunForkedStream seeks it,
	// and only backward, to a position it has already produced.
	Source Source

	// Primary is fed to completion with backpressure: the source is not
	// advanced faster than Primary can keep up.
	Primary Sink

	// Secondary is fed opportunistically. When its buffer pool is full,
	// the engine stops feeding it (without blocking Primary) and
	// records where it stopped.
	Secondary Sink

	// PrimaryDone is invoked once Primary has consumed the entire
	// stream. Its return value decides whether Secondary is finished
	// (by rewinding and replaying any missed bytes) or abandoned.
	PrimaryDone func() ForkDecision

	// PrimaryProgress and SecondaryProgress are called once per chunk
	// delivered to the respective sink. Both may be called from either
	// the caller's goroutine or the background worker; callers that
	// mutate shared state from these callbacks are responsible for
	// their own synchronization, matching the spec's "callers are
	// expected to serialize their own state."
	PrimaryProgress   ProgressFunc
	SecondaryProgress ProgressFunc

	// BufferBytes is the chunk size read from Source. Defaults to 1 MiB.
	BufferBytes int

	// SecondaryQueueDepth bounds the secondary's opportunistic buffer
	// pool. Defaults to 2.
	SecondaryQueueDepth int

	// Worker, if non-nil, is the background goroutine Secondary is fed
	// from. Source is read and Primary is written on the caller's
	// goroutine. If nil, RunForkedStream starts and stops a private one.
	Worker *worker.Worker
}

// RunForkedStream transfers Source to Primary and, opportunistically,
// to Secondary, per the contract in §4.1 of the design: Primary always
// sees every byte; Secondary sees every byte only if PrimaryDone
// decides to Finish after a possible rewind, otherwise it sees a
// prefix followed by abandonment.
func RunForkedStream(opts ForkedStreamOptions) error {
	if opts.PrimaryProgress == nil {
		opts.PrimaryProgress = NopProgress
	}
	if opts.SecondaryProgress == nil {
		opts.SecondaryProgress = NopProgress
	}
	if opts.BufferBytes <= 0 {
		opts.BufferBytes = 1 << 20
	}
	if opts.SecondaryQueueDepth <= 0 {
		opts.SecondaryQueueDepth = 2
	}

	w := opts.Worker
	if w == nil {
		w = worker.New()
		defer w.Close()
	}

	var mu sync.Mutex
	state := secondaryRunning
	abandonPosition := int64(-1) // -1 means secondary never stalled

	// feedSecondary submits a write to the background worker without
	// blocking the caller; it returns false if the secondary's queue is
	// full (the chunk was not accepted).
	secondaryQueue := make(chan struct{}, opts.SecondaryQueueDepth)
	secondaryDone := make(chan error, 1)
	secondaryPending := 0
	secondaryErr := error(nil)

	enqueueSecondary := func(chunk []byte, final bool) bool {
		select {
		case secondaryQueue <- struct{}{}:
		default:
			return false
		}
		mu.Lock()
		secondaryPending++
		mu.Unlock()
		w.Do(func() {
			defer func() {
				<-secondaryQueue
				mu.Lock()
				secondaryPending--
				remaining := secondaryPending
				mu.Unlock()
				if final && remaining == 0 {
					secondaryDone <- secondaryErr
				}
			}()
			if len(chunk) > 0 {
				if _, err := opts.Secondary.Write(chunk); err != nil {
					mu.Lock()
					if secondaryErr == nil {
						secondaryErr = err
					}
					mu.Unlock()
					return
				}
				opts.SecondaryProgress(len(chunk))
			}
		})
		return true
	}

	// Phase 1: feed Primary to completion; opportunistically feed
	// Secondary too, recording where it first falls behind.
	buf := make([]byte, opts.BufferBytes)
	for {
		n, end, err := opts.Source.ReadInto(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if _, err := opts.Primary.Write(chunk); err != nil {
				return err
			}
			opts.PrimaryProgress(n)

			mu.Lock()
			stalled := state == secondaryRewinding || abandonPosition >= 0
			mu.Unlock()
			if !stalled {
				pos := opts.Source.Position() - int64(n)
				if !enqueueSecondary(chunk, false) {
					mu.Lock()
					abandonPosition = pos
					mu.Unlock()
				}
			}
		}
		if end {
			break
		}
	}

	decision := opts.PrimaryDone()

	mu.Lock()
	stalledAt := abandonPosition
	mu.Unlock()

	if decision == Abandon {
		state = secondaryAbandoned
		// Drain whatever is already in flight; nothing further is sent.
		for !enqueueSecondary(nil, true) {
			runtime.Gosched()
		}
		return <-secondaryDone
	}

	// decision == Finish.
	if stalledAt < 0 {
		// Secondary never fell behind: it already has every byte.
		for !enqueueSecondary(nil, true) {
			runtime.Gosched()
		}
		return <-secondaryDone
	}

	mu.Lock()
	state = secondaryRewinding
	mu.Unlock()
	if err := opts.Source.Seek(stalledAt); err != nil {
		return err
	}
	for {
		n, end, err := opts.Source.ReadInto(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			for !enqueueSecondary(chunk, end) {
				runtime.Gosched()
			}
		} else if end {
			for !enqueueSecondary(nil, true) {
				runtime.Gosched()
			}
		}
		if end {
			break
		}
	}
	return <-secondaryDone
}
