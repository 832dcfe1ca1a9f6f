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

// Package profiles implements the built-in named presets a Config can be
// merged with before the security audit runs: a fixed bundle of inbounds,
// router rules, and a log level, applied on top of whatever a caller
// already supplied. Loading the presets from disk is out of scope (an
// external collaborator owns config loading); this package only declares
// the built-ins and the merge itself.
package profiles

import (
	"fmt"
	"sync"

	"proxyengine/internal/engineconfig"
)

// Profile is one named bundle of inbounds and router rules.
type Profile struct {
	Name        string
	Description string
	Inbounds    []engineconfig.InboundConfig
	Rules       []string
	LogLevel    string
}

// Manager holds the registered profiles, built-in and custom.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewManager returns a Manager pre-seeded with the direct-only and
// secure-default built-ins.
func NewManager() *Manager {
	m := &Manager{profiles: make(map[string]Profile)}
	m.registerBuiltins()
	return m
}

func (m *Manager) registerBuiltins() {
	directOnly := Profile{
		Name:        "direct-only",
		Description: "SOCKS5 and HTTP inbounds with everything routed direct, no proxying",
		Inbounds: []engineconfig.InboundConfig{
			inbound("socks-in", "socks5", "127.0.0.1", 1080),
			inbound("http-in", "http", "127.0.0.1", 1081),
		},
		Rules: []string{
			"IP-CIDR,10.0.0.0/8,direct",
			"IP-CIDR,172.16.0.0/12,direct",
			"IP-CIDR,192.168.0.0/16,direct",
			"IP-CIDR,127.0.0.0/8,direct",
		},
		LogLevel: "info",
	}
	m.profiles[directOnly.Name] = directOnly

	secureDefault := Profile{
		Name:        "secure-default",
		Description: "Mixed inbound with sniffing on, private ranges direct, everything else proxied",
		Inbounds: []engineconfig.InboundConfig{
			inboundWithSniffing("mixed-in", "mixed", "127.0.0.1", 1080),
		},
		Rules: []string{
			"IP-CIDR,10.0.0.0/8,direct",
			"IP-CIDR,172.16.0.0/12,direct",
			"IP-CIDR,192.168.0.0/16,direct",
			"IP-CIDR,127.0.0.0/8,direct",
			"DOMAIN-SUFFIX,lan,direct",
		},
		LogLevel: "warn",
	}
	m.profiles[secureDefault.Name] = secureDefault
}

func inbound(tag, protocol, listen string, port int) engineconfig.InboundConfig {
	return engineconfig.InboundConfig{Tag: tag, Protocol: protocol, Listen: listen, Port: port}
}

func inboundWithSniffing(tag, protocol, listen string, port int) engineconfig.InboundConfig {
	cfg := inbound(tag, protocol, listen, port)
	cfg.Sniffing = engineconfig.SniffingConfig{Enabled: true, PeekCap: 8192}
	return cfg
}

// Register adds or overwrites a profile, custom or built-in.
func (m *Manager) Register(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Name] = p
}

// Get returns the named profile, or false if it isn't registered.
func (m *Manager) Get(name string) (Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[name]
	return p, ok
}

// Has reports whether name is registered.
func (m *Manager) Has(name string) bool {
	_, ok := m.Get(name)
	return ok
}

// List returns every registered profile name, in no particular order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registered profiles.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.profiles)
}

// ApplyTo merges the named profile into cfg: the profile's inbounds are
// prepended, and any caller inbound whose tag a profile inbound uses is
// dropped;
// its rules are prepended ahead of the caller's own router rules; its log
// level overwrites cfg.Log.Level outright, matching the precedence a
// profile is meant to have over an unset default.
func (m *Manager) ApplyTo(name string, cfg *engineconfig.Config) error {
	profile, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("profiles: %q not found", name)
	}

	if len(profile.Inbounds) > 0 {
		tags := make(map[string]bool, len(profile.Inbounds))
		merged := make([]engineconfig.InboundConfig, 0, len(profile.Inbounds)+len(cfg.Inbounds))
		merged = append(merged, profile.Inbounds...)
		for _, ib := range profile.Inbounds {
			tags[ib.Tag] = true
		}
		for _, existing := range cfg.Inbounds {
			if !tags[existing.Tag] {
				merged = append(merged, existing)
			}
		}
		cfg.Inbounds = merged
	}

	if len(profile.Rules) > 0 {
		merged := make([]string, 0, len(profile.Rules)+len(cfg.Router.Rules))
		merged = append(merged, profile.Rules...)
		merged = append(merged, cfg.Router.Rules...)
		cfg.Router.Rules = merged
	}

	cfg.Log.Level = profile.LogLevel
	return nil
}
