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

package nat

import (
	"log"
	"sync"
	"time"
)

// CleanupWorker periodically evicts expired NAT entries on a ticker, the
// same stopChan/WaitGroup shutdown shape as core/worker.go's evictionLoop.
type CleanupWorker struct {
	table    *Table
	interval time.Duration
	logger   *log.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewCleanupWorker(table *Table, interval time.Duration, logger *log.Logger) *CleanupWorker {
	if logger == nil {
		logger = log.Default()
	}
	return &CleanupWorker{table: table, interval: interval, logger: logger, stopChan: make(chan struct{})}
}

func (w *CleanupWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop()
	}()
}

func (w *CleanupWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

func (w *CleanupWorker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := w.table.CleanupExpired(time.Now()); n > 0 {
				w.logger.Printf("nat: evicted %d expired flow(s)", n)
			}
		case <-w.stopChan:
			return
		}
	}
}
