// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// HalfCloser is implemented by connections that can shut down one
// direction independently, e.g. *net.TCPConn.CloseWrite.
type HalfCloser interface {
	CloseWrite() error
}

// Options configures a Run call. When Stats, RateLimiter, and Cancel are
// all zero-valued, Run takes the fast path (runtime copy-bidirectional);
// otherwise it falls back to the manual pooled-buffer loop.
type Options struct {
	IdleTimeout time.Duration
	Pool        *BufferPool
	Stats       *Stats
	RateLimiter *RateLimiter
	Cancel      <-chan struct{}
}

// DefaultIdleTimeout is the spec's relay idle timeout default (§5).
const DefaultIdleTimeout = 300 * time.Second

// Result reports the bytes moved in each direction.
type Result struct {
	Up, Down uint64
}

// Run pumps bytes bidirectionally between client and remote until EOF,
// idle timeout, or cancellation, then returns the byte counts moved.
func Run(ctx context.Context, client, remote io.ReadWriter, opts Options) (Result, error) {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Stats == nil && opts.RateLimiter == nil && opts.Cancel == nil {
		return runFastPath(ctx, client, remote, opts.IdleTimeout)
	}
	return runManual(ctx, client, remote, opts)
}

// runFastPath uses io.Copy in both directions guarded by an idle timer that
// restarts only when one direction finishes; individual reads and writes do
// not renew it, and byte counts are added only when a direction's io.Copy
// returns. This mirrors the "built-in
// copy_bidirectional wrapped in a timeout" fast path described in spec.md
// §4.12 (Go's stdlib has no single copy-bidirectional primitive, so two
// io.Copy goroutines plus a shared deadline is the idiomatic equivalent).
func runFastPath(ctx context.Context, client, remote io.ReadWriter, idle time.Duration) (Result, error) {
	errc := make(chan error, 2)
	var up, down countingCopy

	go func() { errc <- up.copy(remote, client) }()
	go func() { errc <- down.copy(client, remote) }()

	timer := time.NewTimer(idle)
	defer timer.Stop()

	done := 0
	for done < 2 {
		select {
		case <-errc:
			done++
		case <-timer.C:
			return Result{Up: up.n.Load(), Down: down.n.Load()}, nil
		case <-ctx.Done():
			return Result{Up: up.n.Load(), Down: down.n.Load()}, ctx.Err()
		}
		timer.Reset(idle)
	}
	return Result{Up: up.n.Load(), Down: down.n.Load()}, nil
}

type countingCopy struct{ n atomic.Uint64 }

func (c *countingCopy) copy(dst io.Writer, src io.Reader) error {
	n, err := io.Copy(dst, src)
	c.n.Add(uint64(n))
	if err == io.EOF {
		return nil
	}
	return err
}

// runManual implements the select-on-two-reads loop with pooled buffers,
// half-close propagation, per-read rate limiting, and stats accounting.
func runManual(ctx context.Context, client, remote io.ReadWriter, opts Options) (Result, error) {
	pool := opts.Pool
	if pool == nil {
		pool = NewBufferPool()
	}
	stats := opts.Stats
	if stats == nil {
		stats = &Stats{}
	}

	clientBuf := pool.Get(TierMedium)
	remoteBuf := pool.Get(TierMedium)
	defer pool.Put(clientBuf)
	defer pool.Put(remoteBuf)

	type readResult struct {
		n   int
		err error
	}
	clientReads := make(chan readResult, 1)
	remoteReads := make(chan readResult, 1)

	readLoop := func(r io.Reader, buf []byte, out chan<- readResult, stop <-chan struct{}) {
		for {
			n, err := r.Read(buf)
			select {
			case out <- readResult{n, err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}

	stopReaders := make(chan struct{})
	defer close(stopReaders)
	go readLoop(client, clientBuf, clientReads, stopReaders)
	go readLoop(remote, remoteBuf, remoteReads, stopReaders)

	idleTimer := time.NewTimer(opts.IdleTimeout)
	defer idleTimer.Stop()

	clientEOF, remoteEOF := false, false

	for {
		if clientEOF && remoteEOF {
			up, down := stats.Snapshot()
			return Result{Up: up, Down: down}, nil
		}

		select {
		case res := <-clientReads:
			if res.n > 0 {
				if err := waitTokens(ctx, opts.RateLimiter, res.n); err != nil {
					return snapshotResult(stats), err
				}
				if _, err := remote.Write(clientBuf[:res.n]); err != nil {
					return snapshotResult(stats), err
				}
				stats.AddUpload(res.n)
				idleTimer.Reset(opts.IdleTimeout)
			}
			if res.err != nil {
				clientEOF = true
				shutdownWrite(remote)
			}
		case res := <-remoteReads:
			if res.n > 0 {
				if err := waitTokens(ctx, opts.RateLimiter, res.n); err != nil {
					return snapshotResult(stats), err
				}
				if _, err := client.Write(remoteBuf[:res.n]); err != nil {
					return snapshotResult(stats), err
				}
				stats.AddDownload(res.n)
				idleTimer.Reset(opts.IdleTimeout)
			}
			if res.err != nil {
				remoteEOF = true
				shutdownWrite(client)
			}
		case <-idleTimer.C:
			return snapshotResult(stats), nil
		case <-opts.Cancel:
			return snapshotResult(stats), context.Canceled
		case <-ctx.Done():
			return snapshotResult(stats), ctx.Err()
		}
	}
}

func waitTokens(ctx context.Context, limiter *RateLimiter, n int) error {
	if limiter == nil {
		return nil
	}
	return limiter.WaitN(ctx, n)
}

func snapshotResult(s *Stats) Result {
	up, down := s.Snapshot()
	return Result{Up: up, Down: down}
}

func shutdownWrite(w io.Writer) {
	if hc, ok := w.(HalfCloser); ok {
		hc.CloseWrite()
		return
	}
	if c, ok := w.(net.Conn); ok {
		c.Close()
	}
}
