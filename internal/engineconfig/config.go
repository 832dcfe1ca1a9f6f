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

// Package engineconfig declares the typed Config contract the engine
// consumes. Loading, schema validation, and subscription conversion are
// external collaborators (spec.md §1); this package only describes the
// shape a fully-resolved configuration value takes.
package engineconfig

// Config is the fully-resolved, already-validated configuration value the
// engine is handed at startup. Nothing in this module parses or produces
// one.
type Config struct {
	Log           LogConfig
	Profile       string
	Inbounds      []InboundConfig
	Outbounds     []OutboundConfig
	ProxyGroups   []ProxyGroupConfig
	Router        RouterConfig
	API           *APIConfig
	MaxConnections int
}

type LogConfig struct {
	Level string
}

type SniffingConfig struct {
	Enabled  bool
	PeekCap  int
}

type InboundConfig struct {
	Tag            string
	Protocol       string
	Listen         string
	Port           int
	Sniffing       SniffingConfig
	Settings       Settings
	MaxConnections int
}

type OutboundConfig struct {
	Tag       string
	Protocol  string
	Settings  Settings
	Transport TransportConfig
	Mux       *MuxConfig
}

// TransportConfig selects the substrate an outbound dials over and layers
// in before the protocol's own framing: plain TCP, WebSocket, HTTP/2,
// gRPC, HTTP Upgrade, or ShadowTLS, each optionally wrapped in TLS.
type TransportConfig struct {
	Type              string
	Path              string
	Host              string
	ServiceName       string
	Headers           map[string]string
	ShadowTLSPassword string
	TLS               TLSSettings
}

type TLSSettings struct {
	Enabled        bool
	ServerName     string
	ALPN           []string
	AllowInsecure  bool
	Fingerprint    string
	ECHConfigList  []byte
	ECHGrease      bool
	FragmentMinLen int
	FragmentMaxLen int
	Reality        *RealitySettings
}

type RealitySettings struct {
	ServerPublicKey string
	ShortID         string
	ServerName      string
}

// MuxConfig turns on connection pooling/multiplexing for an outbound; a
// nil value on OutboundConfig means the outbound dials one connection per
// proxied stream.
type MuxConfig struct {
	Protocol                string
	MaxConnections          int
	MaxStreamsPerConnection int
	Padding                 bool
}

// Settings is the catch-all per-protocol settings bag; field presence
// varies by protocol, mirroring the external driver's own permissive
// settings shape (this engine never parses these from raw config text).
type Settings struct {
	AllowInsecure bool
	Username      string
	Password      string
	Method        string
	Server        string
	Port          int
}

type ProxyGroupConfig struct {
	Tag     string
	Kind    string
	Members []string
}

type RouterConfig struct {
	Rules       []string
	DefaultTag  string
}

type APIConfig struct {
	Listen string
	Port   int
	Secret string
}
