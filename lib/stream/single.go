// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

// SingleThreadedStreamer transfers a Source to a Sink using one buffer
// and pure synchronous control flow: fill, drain, repeat. It runs
// entirely on the caller's goroutine and is not interruptible.
type SingleThreadedStreamer struct {
	BufferBytes int
}

// NewSingleThreadedStreamer returns a streamer with the given buffer
// size. A zero or negative size defaults to 64 KiB.
func NewSingleThreadedStreamer(bufferBytes int) *SingleThreadedStreamer {
	if bufferBytes <= 0 {
		bufferBytes = 64 * 1024
	}
	return &SingleThreadedStreamer{BufferBytes: bufferBytes}
}

// Stream copies every byte from source to sink, calling progress once
// per chunk delivered.
func (s *SingleThreadedStreamer) Stream(source Source, sink Sink, progress ProgressFunc) error {
	if progress == nil {
		progress = NopProgress
	}
	buf := make([]byte, s.BufferBytes)
	for {
		n, end, err := source.ReadInto(buf)
		if err != nil {
			return err
		}
		if n > 0 {
			if _, err := sink.Write(buf[:n]); err != nil {
				return err
			}
			progress(n)
		}
		if end {
			return nil
		}
	}
}
