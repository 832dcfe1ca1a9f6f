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

package router

import (
	"fmt"
	"net/netip"
	"strings"

	"gopkg.in/yaml.v3"
)

// clashPayload is the Clash rule-provider YAML shape: a top-level
// "payload:" key holding a list of lines in the same syntax the plain-text
// form uses.
type clashPayload struct {
	Payload []string `yaml:"payload"`
}

// linesOf returns raw as a list of non-blank, non-comment lines, whether
// raw is plain text or a Clash "payload:" YAML document.
func linesOf(raw []byte) []string {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "payload:") {
		var doc clashPayload
		if err := yaml.Unmarshal(raw, &doc); err == nil && len(doc.Payload) > 0 {
			return doc.Payload
		}
	}
	var out []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ParseDomain parses the "domain" behavior: default semantics is suffix;
// "domain:", "domain_suffix:", "domain_keyword:", and "+." prefixes select
// the match kind explicitly.
func ParseDomain(raw []byte) (*RuleSetData, error) {
	data := &RuleSetData{}
	for _, line := range linesOf(raw) {
		kind, value := DomainSuffix, line
		switch {
		case strings.HasPrefix(line, "+."):
			kind, value = DomainSuffix, line[2:]
		case strings.HasPrefix(line, "domain_suffix:"):
			kind, value = DomainSuffix, line[len("domain_suffix:"):]
		case strings.HasPrefix(line, "domain_keyword:"):
			kind, value = DomainKeyword, line[len("domain_keyword:"):]
		case strings.HasPrefix(line, "domain:"):
			kind, value = DomainFull, line[len("domain:"):]
		}
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		data.DomainRules = append(data.DomainRules, DomainRule{Kind: kind, Value: value})
	}
	return data, nil
}

// ParseIPCIDR parses the "ipcidr" behavior: every non-blank, non-comment
// line is a CIDR.
func ParseIPCIDR(raw []byte) (*RuleSetData, error) {
	data := &RuleSetData{}
	for _, line := range linesOf(raw) {
		p, err := netip.ParsePrefix(line)
		if err != nil {
			return nil, fmt.Errorf("router: ipcidr rule-set: invalid cidr %q: %w", line, err)
		}
		data.IPCIDRs = append(data.IPCIDRs, p)
	}
	return data, nil
}

// ParseClassical parses the "classical" behavior: prefixed lines of the
// form "DOMAIN(,-SUFFIX,-KEYWORD),value" and "IP-CIDR[6],cidr[,no-resolve]".
// Unknown prefixes are skipped rather than treated as errors, matching the
// permissive behavior of large community rule sets.
func ParseClassical(raw []byte) (*RuleSetData, error) {
	data := &RuleSetData{}
	for _, line := range linesOf(raw) {
		fields := strings.Split(line, ",")
		if len(fields) < 2 {
			continue
		}
		prefix := strings.ToUpper(strings.TrimSpace(fields[0]))
		value := strings.TrimSpace(fields[1])

		switch prefix {
		case "DOMAIN":
			data.DomainRules = append(data.DomainRules, DomainRule{Kind: DomainFull, Value: strings.ToLower(value)})
		case "DOMAIN-SUFFIX":
			data.DomainRules = append(data.DomainRules, DomainRule{Kind: DomainSuffix, Value: strings.ToLower(value)})
		case "DOMAIN-KEYWORD":
			data.DomainRules = append(data.DomainRules, DomainRule{Kind: DomainKeyword, Value: strings.ToLower(value)})
		case "IP-CIDR", "IP-CIDR6":
			p, err := netip.ParsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("router: classical rule-set: invalid cidr %q: %w", value, err)
			}
			data.IPCIDRs = append(data.IPCIDRs, p)
		default:
			// Unknown prefix (PROCESS-NAME, RULE-SET, MATCH, ...): skipped.
		}
	}
	return data, nil
}

// Parse dispatches to the parser matching behavior, mirroring the way
// BuildPersister dispatches on a string adapter selector.
func Parse(behavior Behavior, raw []byte) (*RuleSetData, error) {
	switch behavior {
	case BehaviorDomain:
		return ParseDomain(raw)
	case BehaviorIPCIDR:
		return ParseIPCIDR(raw)
	case BehaviorClassical:
		return ParseClassical(raw)
	default:
		return nil, fmt.Errorf("router: unknown rule-set behavior: %d", behavior)
	}
}
