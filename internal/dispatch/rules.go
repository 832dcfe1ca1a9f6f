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
	"net/netip"
	"strings"

	"proxyengine/internal/router"
)

// CompileRules turns the top-level rule lines (the same classical syntax
// internal/router's rule-set parser already knows, extended with a
// trailing outbound-tag field) into router.Rule values. Unknown prefixes
// are rejected here, unlike the permissive rule-set parser, since a
// malformed top-level rule is a configuration error rather than noise in
// a large community list. MATCH lines are skipped: RouterConfig.DefaultTag
// already carries the same fallback.
func CompileRules(lines []string) ([]router.Rule, error) {
	rules := make([]router.Rule, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		prefix := strings.ToUpper(fields[0])
		if prefix == "MATCH" {
			continue
		}

		rule, err := compileRule(prefix, fields)
		if err != nil {
			return nil, fmt.Errorf("dispatch: rule %q: %w", line, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileRule(prefix string, fields []string) (router.Rule, error) {
	switch prefix {
	case "DOMAIN", "DOMAIN-SUFFIX", "DOMAIN-KEYWORD":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected value and outbound tag")
		}
		kind := map[string]router.Kind{
			"DOMAIN":         router.KindDomain,
			"DOMAIN-SUFFIX":  router.KindDomainSuffix,
			"DOMAIN-KEYWORD": router.KindDomainKeyword,
		}[prefix]
		return router.Rule{Kind: kind, Value: fields[1], OutboundTag: fields[2]}, nil

	case "IP-CIDR", "IP-CIDR6":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected cidr and outbound tag")
		}
		prefix, err := netip.ParsePrefix(fields[1])
		if err != nil {
			return router.Rule{}, fmt.Errorf("invalid cidr %q: %w", fields[1], err)
		}
		noResolve := len(fields) > 3 && strings.EqualFold(fields[3], "no-resolve")
		return router.Rule{Kind: router.KindIPCIDR, CIDR: prefix, OutboundTag: fields[2], NoResolve: noResolve}, nil

	case "SRC-IP-CIDR":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected cidr and outbound tag")
		}
		prefix, err := netip.ParsePrefix(fields[1])
		if err != nil {
			return router.Rule{}, fmt.Errorf("invalid cidr %q: %w", fields[1], err)
		}
		return router.Rule{Kind: router.KindSourceIPCIDR, CIDR: prefix, OutboundTag: fields[2]}, nil

	case "GEOIP":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected country group and outbound tag")
		}
		return router.Rule{Kind: router.KindGeoIP, Value: fields[1], OutboundTag: fields[2]}, nil

	case "GEOSITE":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected site group and outbound tag")
		}
		return router.Rule{Kind: router.KindGeoSite, Value: fields[1], OutboundTag: fields[2]}, nil

	case "RULE-SET":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected provider name and outbound tag")
		}
		return router.Rule{Kind: router.KindRuleSet, Value: fields[1], OutboundTag: fields[2]}, nil

	case "PROTOCOL":
		if len(fields) < 3 {
			return router.Rule{}, fmt.Errorf("expected detected protocol and outbound tag")
		}
		return router.Rule{Kind: router.KindProtocol, Value: fields[1], OutboundTag: fields[2]}, nil

	default:
		return router.Rule{}, fmt.Errorf("unknown rule prefix %q", prefix)
	}
}
