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

// Package main is the proxy engine's entry point: it resolves a minimal
// Config (optionally merging in a built-in profile), audits it, wires
// every module into a Dispatcher, and serves every configured inbound
// until an OS signal asks it to stop.
//
// Loading configuration from disk/flags beyond the knobs below is an
// external collaborator's concern (spec.md §1); this binary only needs
// enough of its own to be runnable standalone.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proxyengine/internal/dispatch"
	"proxyengine/internal/engineconfig"
	"proxyengine/internal/group"
	"proxyengine/internal/inbound"
	"proxyengine/internal/nat"
	"proxyengine/internal/observability"
	"proxyengine/internal/profiles"
	"proxyengine/internal/relay"
	"proxyengine/internal/router"
	"proxyengine/internal/secaudit"
)

func main() {
	profileName := flag.String("profile", "", "built-in profile to merge into the base config (e.g. direct-only, secure-default)")
	defaultTag := flag.String("default-outbound", "direct", "outbound tag used when no router rule matches")
	maxConnections := flag.Int("max-connections", 0, "global connection cap; 0 means unlimited")
	redisAddr := flag.String("selector-redis-addr", "", "if set, persist proxy-group selector state to this Redis address")
	flag.Parse()

	cfg := &engineconfig.Config{
		Log:            engineconfig.LogConfig{Level: "info"},
		Router:         engineconfig.RouterConfig{DefaultTag: *defaultTag},
		MaxConnections: *maxConnections,
	}

	if *profileName != "" {
		mgr := profiles.NewManager()
		if err := mgr.ApplyTo(*profileName, cfg); err != nil {
			log.Fatalf("proxyengine: applying profile %q: %v", *profileName, err)
		}
	}

	logger := log.New(os.Stdout, "proxyengine: ", log.LstdFlags)
	if err := secaudit.ValidateAndWarn(cfg, logger); err != nil {
		log.Fatalf("proxyengine: config failed security audit: %v", err)
	}

	var persister group.Persister
	if *redisAddr != "" {
		rp := group.NewRedisPersister(*redisAddr, "")
		defer rp.Close()
		persister = rp
	}

	built, err := dispatch.BuildOutbounds(cfg, persister)
	if err != nil {
		log.Fatalf("proxyengine: %v", err)
	}
	defer func() {
		for _, checker := range built.HealthCheckers {
			checker.Stop()
		}
	}()

	rules, err := dispatch.CompileRules(cfg.Router.Rules)
	if err != nil {
		log.Fatalf("proxyengine: compiling router rules: %v", err)
	}
	rt := router.New(rules, nil, nil, cfg.Router.DefaultTag)

	natTable := nat.NewTable()
	pool := relay.NewBufferPool()
	tracker := observability.NewConnectionTracker()

	disp := dispatch.New(built.Outbounds, rt, natTable, pool, tracker, logger, cfg.MaxConnections)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listeners := make([]inbound.Listener, 0, len(cfg.Inbounds))
	var wg sync.WaitGroup
	for _, ic := range cfg.Inbounds {
		listener, err := inbound.Build(ic)
		if err != nil {
			log.Fatalf("proxyengine: building inbound %q: %v", ic.Tag, err)
		}
		listeners = append(listeners, listener)

		wg.Add(1)
		go func(l inbound.Listener) {
			defer wg.Done()
			logger.Printf("inbound %q listening", l.Tag())
			if err := l.ListenAndServe(ctx, disp); err != nil && ctx.Err() == nil {
				logger.Printf("inbound %q stopped: %v", l.Tag(), err)
			}
		}(listener)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down proxyengine...")
	cancel()
	for _, l := range listeners {
		l.Close()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Printf("proxyengine: shutdown timed out waiting for inbounds to drain")
	}

	fmt.Println("proxyengine stopped.")
}
