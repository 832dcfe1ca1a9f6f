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

// Package secaudit performs a static security audit of an
// engineconfig.Config: weak Shadowsocks ciphers, outbounds with
// allow_insecure or empty passwords, and an API exposed externally
// without a secret.
package secaudit

import (
	"fmt"
	"log"
	"strings"

	"proxyengine/internal/engineconfig"
)

// Severity orders how seriously a Warning should be treated; Block
// prevents startup, Warn and Info are advisory only.
type Severity int

const (
	Info Severity = iota
	Warn
	Block
)

func (s Severity) String() string {
	switch s {
	case Block:
		return "block"
	case Warn:
		return "warn"
	default:
		return "info"
	}
}

// Warning is one finding from Audit.
type Warning struct {
	Severity Severity
	Code     string
	Message  string
	FixHint  string
}

// Report is the full result of an audit.
type Report struct {
	Warnings []Warning
	Blocked  bool
}

var weakShadowsocksCiphers = map[string]bool{
	"rc4":           true,
	"rc4-md5":       true,
	"aes-128-cfb":   true,
	"aes-256-cfb":   true,
	"chacha20":      true,
	"table":         true,
	"none":          true,
}

// Audit inspects cfg and returns every finding, in the same order the
// original Rust auditor produced them: allow_insecure, then API-without-
// secret, then empty passwords, then weak ciphers.
func Audit(cfg *engineconfig.Config) Report {
	var warnings []Warning

	for _, ob := range cfg.Outbounds {
		if ob.Settings.AllowInsecure {
			warnings = append(warnings, Warning{
				Severity: Warn,
				Code:     "SEC_TLS_INSECURE",
				Message:  fmt.Sprintf("outbound %q has allow_insecure=true", ob.Tag),
				FixHint:  "Set allow_insecure to false and use a valid TLS certificate",
			})
		}
	}

	if cfg.API != nil && cfg.API.Secret == "" {
		listenExternal := cfg.API.Listen != "127.0.0.1" && cfg.API.Listen != "localhost"
		if listenExternal {
			warnings = append(warnings, Warning{
				Severity: Block,
				Code:     "SEC_API_NO_SECRET",
				Message:  fmt.Sprintf("API listens on %s without a secret", cfg.API.Listen),
				FixHint:  "Set api.secret or bind API to 127.0.0.1",
			})
		} else {
			warnings = append(warnings, Warning{
				Severity: Info,
				Code:     "SEC_API_LOCAL_NO_SECRET",
				Message:  "API has no secret (localhost only)",
				FixHint:  "Consider setting api.secret for defense in depth",
			})
		}
	}

	// Empty-password check mirrors a configured-but-blank password, not an
	// absent one: only outbounds whose protocol carries a password field
	// and whose value is the empty string are flagged. The settings bag is
	// untyped across protocols, so we treat "password set to empty" as
	// "Settings.Password == \"\" AND the protocol is one that uses it".
	for _, ob := range cfg.Outbounds {
		if usesPassword(ob.Protocol) && ob.Settings.Password == "" {
			warnings = append(warnings, Warning{
				Severity: Warn,
				Code:     "SEC_EMPTY_PASSWORD",
				Message:  fmt.Sprintf("outbound %q has an empty password", ob.Tag),
				FixHint:  "Set a strong password for this outbound",
			})
		}
	}

	for _, ob := range cfg.Outbounds {
		proto := strings.ToLower(ob.Protocol)
		if proto != "shadowsocks" && proto != "ss" {
			continue
		}
		method := strings.ToLower(ob.Settings.Method)
		if method != "" && weakShadowsocksCiphers[method] {
			warnings = append(warnings, Warning{
				Severity: Warn,
				Code:     "SEC_WEAK_CIPHER",
				Message:  fmt.Sprintf("outbound %q uses weak cipher %q", ob.Tag, method),
				FixHint:  "Use aes-256-gcm or chacha20-ietf-poly1305",
			})
		}
	}

	blocked := false
	for _, w := range warnings {
		if w.Severity == Block {
			blocked = true
			break
		}
	}
	return Report{Warnings: warnings, Blocked: blocked}
}

func usesPassword(protocol string) bool {
	switch strings.ToLower(protocol) {
	case "shadowsocks", "ss", "trojan", "vless", "vmess":
		return true
	default:
		return false
	}
}

// MaskSensitive redacts value for logging, keeping only the first and
// last two characters visible.
func MaskSensitive(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// ValidateAndWarn logs every warning in Audit(cfg) at the matching level
// and returns an error (refusing startup) if any finding is Block-level.
func ValidateAndWarn(cfg *engineconfig.Config, logger *log.Logger) error {
	if logger == nil {
		logger = log.Default()
	}
	report := Audit(cfg)

	var blockedMessages []string
	for _, w := range report.Warnings {
		logger.Printf("[secaudit %s] %s (code=%s fix=%q)", w.Severity, w.Message, w.Code, w.FixHint)
		if w.Severity == Block {
			blockedMessages = append(blockedMessages, w.Message)
		}
	}

	if report.Blocked {
		return fmt.Errorf("secaudit: blocked startup: %s", strings.Join(blockedMessages, "; "))
	}
	return nil
}
