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

// Package router implements the rule engine: a compiled, ordered rule
// list evaluated first-match-wins, rule-providers that fetch and cache
// large domain/CIDR sets (refreshed on a ticker, optionally lazy-loaded),
// and the text/YAML parsers those providers consume.
package router

import (
	"net/netip"
	"strings"

	"proxyengine/pkg/session"
)

// Behavior selects how a RuleSetData (and the raw payload it was parsed
// from) is interpreted.
type Behavior int

const (
	BehaviorDomain Behavior = iota
	BehaviorIPCIDR
	BehaviorClassical
)

// Kind enumerates the rule types from spec.md §4.9.
type Kind int

const (
	KindDomain Kind = iota
	KindDomainSuffix
	KindDomainKeyword
	KindIPCIDR
	KindGeoIP
	KindGeoSite
	KindRuleSet
	KindProtocol
	KindSourceIPCIDR
)

// GeoMatcher answers whether an IP or a domain belongs to a named geo
// group; GeoIP/GeoSite database loading is an external collaborator
// (spec.md §1), this is the consumption contract only.
type GeoMatcher interface {
	MatchIP(group string, ip netip.Addr) bool
	MatchDomain(group string, domain string) bool
}

// Rule is one compiled entry in a Router's ordered list.
type Rule struct {
	Kind       Kind
	Value      string   // lowercased domain/keyword/group name, or raw CIDR text
	CIDR       netip.Prefix
	NoResolve  bool
	OutboundTag string
}

// Router evaluates rules in declaration order against a Session and
// returns the first matching outbound tag, or the configured default.
type Router struct {
	rules     []Rule
	providers map[string]*RuleProvider
	geo       GeoMatcher
	defaultTag string
}

// New builds a Router. providers maps a rule-set name (as referenced by
// "rule-set:X" rules) to its RuleProvider; geo may be nil if no GeoIP/
// GeoSite rules are configured.
func New(rules []Rule, providers map[string]*RuleProvider, geo GeoMatcher, defaultTag string) *Router {
	normalized := make([]Rule, len(rules))
	for i, r := range rules {
		r.Value = strings.ToLower(r.Value)
		normalized[i] = r
	}
	return &Router{rules: normalized, providers: providers, geo: geo, defaultTag: defaultTag}
}

// Decide returns the outbound tag for sess and the rule that produced it
// (nil if the default was used).
func (r *Router) Decide(sess *session.Session) (tag string, matched *Rule) {
	host := strings.ToLower(sess.Target.Host())
	var resolvedIP netip.Addr
	var haveIP bool
	if ip, ok := sess.Target.IP(); ok {
		resolvedIP, haveIP = ip, true
	}

	for i := range r.rules {
		rule := &r.rules[i]
		if r.matches(rule, sess, host, resolvedIP, haveIP) {
			return rule.OutboundTag, rule
		}
	}
	return r.defaultTag, nil
}

func (r *Router) matches(rule *Rule, sess *session.Session, host string, ip netip.Addr, haveIP bool) bool {
	switch rule.Kind {
	case KindDomain:
		return host == rule.Value
	case KindDomainSuffix:
		return host == rule.Value || strings.HasSuffix(host, "."+rule.Value)
	case KindDomainKeyword:
		return strings.Contains(host, rule.Value)
	case KindIPCIDR:
		return haveIP && rule.CIDR.Contains(ip)
	case KindSourceIPCIDR:
		srcAP, ok := sess.SourceAddrPort()
		return ok && rule.CIDR.Contains(srcAP.Addr())
	case KindGeoIP:
		return haveIP && r.geo != nil && r.geo.MatchIP(rule.Value, ip)
	case KindGeoSite:
		return r.geo != nil && r.geo.MatchDomain(rule.Value, host)
	case KindProtocol:
		return strings.EqualFold(sess.DetectedProtocol, rule.Value)
	case KindRuleSet:
		p := r.providers[rule.Value]
		if p == nil {
			return false
		}
		data := p.Ensure()
		if !sess.Target.IsIP() {
			return data.MatchesDomain(host)
		}
		if rule.NoResolve {
			return false
		}
		return haveIP && data.MatchesIP(ip)
	default:
		return false
	}
}
