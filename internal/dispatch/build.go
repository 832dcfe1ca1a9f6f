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

package dispatch

import (
	"fmt"
	"time"

	"proxyengine/internal/engineconfig"
	"proxyengine/internal/group"
	"proxyengine/internal/outbound"
	"proxyengine/pkg/session"
)

// Health-check defaults applied to every url-test/fallback/latency-weighted
// group, since engineconfig.ProxyGroupConfig carries no per-group knobs for
// them (config schema is an external collaborator's concern; these are
// reasonable engine-side defaults rather than something a caller tunes).
const (
	defaultProbeURL      = "https://www.gstatic.com/generate_204"
	defaultProbeInterval = 30 * time.Second
	defaultToleranceMs   = 50
	defaultLatencyAlpha  = 1.0
)

// BuildResult is what BuildOutbounds produces: the resolved outbound/group
// registry plus every health checker it started, so the caller can stop
// them on shutdown.
type BuildResult struct {
	Outbounds      map[string]session.Outbound
	HealthCheckers []*group.HealthChecker
}

// BuildOutbounds constructs every plain outbound from cfg.Outbounds, then
// every proxy group from cfg.ProxyGroups, keyed by tag in one shared map —
// a group's member list may reference either a plain outbound or another
// group, as long as that member's own entry was declared earlier in
// cfg.ProxyGroups (groups are resolved in declaration order; forward
// references are a configuration error here, not a dependency the builder
// resolves topologically). persister may be nil, meaning select groups
// never persist across restarts.
func BuildOutbounds(cfg *engineconfig.Config, persister group.Persister) (*BuildResult, error) {
	registry := make(map[string]session.Outbound, len(cfg.Outbounds)+len(cfg.ProxyGroups))
	for _, oc := range cfg.Outbounds {
		ob, err := outbound.Build(oc)
		if err != nil {
			return nil, fmt.Errorf("dispatch: building outbound %q: %w", oc.Tag, err)
		}
		registry[oc.Tag] = ob
	}

	result := &BuildResult{Outbounds: registry}

	for _, gc := range cfg.ProxyGroups {
		members := make([]session.Outbound, 0, len(gc.Members))
		for _, tag := range gc.Members {
			ob, ok := registry[tag]
			if !ok {
				return nil, fmt.Errorf("dispatch: proxy group %q references unknown member %q", gc.Tag, tag)
			}
			members = append(members, ob)
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("dispatch: proxy group %q has no members", gc.Tag)
		}

		switch gc.Kind {
		case "select", "selector":
			registry[gc.Tag] = group.NewSelector(gc.Tag, members, persister)

		case "urltest":
			checker := group.NewHealthChecker(members, defaultProbeURL, defaultProbeInterval)
			checker.Start()
			result.HealthCheckers = append(result.HealthCheckers, checker)
			registry[gc.Tag] = group.NewUrlTest(gc.Tag, members, checker, defaultToleranceMs)

		case "fallback":
			checker := group.NewHealthChecker(members, defaultProbeURL, defaultProbeInterval)
			checker.Start()
			result.HealthCheckers = append(result.HealthCheckers, checker)
			registry[gc.Tag] = group.NewFallback(gc.Tag, members, checker)

		case "loadbalance":
			registry[gc.Tag] = group.NewLoadBalance(gc.Tag, members)

		case "latency-weighted":
			checker := group.NewHealthChecker(members, defaultProbeURL, defaultProbeInterval)
			checker.Start()
			result.HealthCheckers = append(result.HealthCheckers, checker)
			registry[gc.Tag] = group.NewLatencyWeighted(gc.Tag, members, checker, defaultLatencyAlpha)

		case "sticky":
			registry[gc.Tag] = group.NewSticky(gc.Tag, members)

		default:
			return nil, fmt.Errorf("dispatch: proxy group %q has unknown kind %q", gc.Tag, gc.Kind)
		}
	}

	return result, nil
}
