// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import "github.com/kwiberg/frz/lib/worker"

// buffer is one slot in the multi-threaded streamer's buffer pool.
type buffer struct {
	data []byte
	n    int
	end  bool
}

// MultiThreadedStreamer transfers a Source to a Sink using a background
// goroutine for the producer (reading the source) and the caller's own
// goroutine for the consumer (draining to the sink). Buffers move
// between two channels that act as the "unused" and "filled" queues
// from the spec: the filled queue preserves FIFO order, so bytes reach
// the sink in source order.
type MultiThreadedStreamer struct {
	numBuffers  int
	bufferBytes int
	w           *worker.Worker
}

// NewMultiThreadedStreamer returns a streamer backed by numBuffers
// buffers of bufferBytes each. Defaults: 4 buffers of 1 MiB.
func NewMultiThreadedStreamer(numBuffers, bufferBytes int) *MultiThreadedStreamer {
	if numBuffers <= 0 {
		numBuffers = 4
	}
	if bufferBytes <= 0 {
		bufferBytes = 1 << 20
	}
	return &MultiThreadedStreamer{
		numBuffers:  numBuffers,
		bufferBytes: bufferBytes,
		w:           worker.New(),
	}
}

// Worker returns the streamer's background worker, so a forked stream
// running on the same streamer can reuse the same background goroutine
// instead of starting another one.
func (s *MultiThreadedStreamer) Worker() *worker.Worker {
	return s.w
}

// Close releases the streamer's background goroutine. Close must be
// called exactly once, after the last Stream call has returned.
func (s *MultiThreadedStreamer) Close() {
	s.w.Close()
}

// Stream copies every byte from source to sink. The producer (reading
// source) runs on the streamer's background worker; the consumer
// (writing sink) runs on the calling goroutine.
func (s *MultiThreadedStreamer) Stream(source Source, sink Sink, progress ProgressFunc) error {
	if progress == nil {
		progress = NopProgress
	}

	free := make(chan *buffer, s.numBuffers)
	filled := make(chan *buffer, s.numBuffers)
	for i := 0; i < s.numBuffers; i++ {
		free <- &buffer{data: make([]byte, s.bufferBytes)}
	}

	errCh := make(chan error, 1)
	done := make(chan struct{})

	s.w.Do(func() {
		defer close(done)
		for {
			buf := <-free
			n, end, err := source.ReadInto(buf.data)
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				buf.n, buf.end = 0, true
				filled <- buf
				return
			}
			buf.n, buf.end = n, end
			filled <- buf
			if end {
				return
			}
		}
	})

	// sinkErr, once set, stops further sink writes but the loop keeps
	// draining filled buffers back to free so the producer (which may
	// still be blocked handing buffers to a full filled channel) can
	// always make progress and eventually observe end-of-stream.
	var sinkErr error
	for {
		buf := <-filled
		if sinkErr == nil && buf.n > 0 {
			if _, err := sink.Write(buf.data[:buf.n]); err != nil {
				sinkErr = err
			} else {
				progress(buf.n)
			}
		}
		end := buf.end
		free <- buf
		if end {
			<-done
			if sinkErr != nil {
				return sinkErr
			}
			select {
			case err := <-errCh:
				return err
			default:
				return nil
			}
		}
	}
}
