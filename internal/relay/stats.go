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

import "sync/atomic"

// Stats accumulates upload/download byte counts for one session, readable
// concurrently with the relay loop that updates it.
type Stats struct {
	Upload   atomic.Uint64
	Download atomic.Uint64
}

func (s *Stats) AddUpload(n int)   { s.Upload.Add(uint64(n)) }
func (s *Stats) AddDownload(n int) { s.Download.Add(uint64(n)) }

func (s *Stats) Snapshot() (upload, download uint64) {
	return s.Upload.Load(), s.Download.Load()
}
