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

//go:build linux

package relay

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// SpliceCapable is satisfied by connections that expose a raw file
// descriptor, e.g. *net.TCPConn.
type SpliceCapable interface {
	SyscallConn() (syscall.RawConn, error)
}

// RunSplice moves bytes kernel-to-kernel between two TCP connections using
// two pipes and splice(2), the zero-copy fast path of spec.md §4.12. It is
// only valid when no rate limiter is configured (there is no userspace hook
// to throttle at).
func RunSplice(ctx context.Context, client, remote *net.TCPConn) (Result, error) {
	var wg sync.WaitGroup
	var up, down uint64
	var upErr, downErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		up, upErr = spliceOneDirection(ctx, client, remote)
	}()
	go func() {
		defer wg.Done()
		down, downErr = spliceOneDirection(ctx, remote, client)
	}()
	wg.Wait()

	if upErr != nil {
		return Result{Up: up, Down: down}, upErr
	}
	return Result{Up: up, Down: down}, downErr
}

// spliceOneDirection pipes src -> dst through an in-kernel pipe buffer.
func spliceOneDirection(ctx context.Context, src, dst *net.TCPConn) (uint64, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("relay: splice pipe: %w", err)
	}
	defer pr.Close()
	defer pw.Close()

	srcRaw, err := src.SyscallConn()
	if err != nil {
		return 0, err
	}
	dstRaw, err := dst.SyscallConn()
	if err != nil {
		return 0, err
	}

	var total uint64
	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		var n int64
		var spliceErr error
		controlErr := srcRaw.Read(func(srcFD uintptr) bool {
			n, spliceErr = unix.Splice(int(srcFD), nil, int(pw.Fd()), nil, 1<<20, unix.SPLICE_F_MOVE|unix.SPLICE_F_NONBLOCK)
			if spliceErr == syscall.EAGAIN {
				return false // ask runtime to wait for readability and retry
			}
			return true
		})
		if controlErr != nil {
			return total, controlErr
		}
		if spliceErr != nil {
			return total, spliceErr
		}
		if n == 0 {
			return total, nil // EOF
		}

		remaining := n
		for remaining > 0 {
			var wrote int64
			var werr error
			cerr := dstRaw.Write(func(dstFD uintptr) bool {
				wrote, werr = unix.Splice(int(pr.Fd()), nil, int(dstFD), nil, int(remaining), unix.SPLICE_F_MOVE)
				return werr != syscall.EAGAIN
			})
			if cerr != nil {
				return total, cerr
			}
			if werr != nil {
				return total, werr
			}
			remaining -= wrote
			total += uint64(wrote)
		}
	}
}
