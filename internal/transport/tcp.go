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

package transport

import (
	"context"
	"net"
)

type tcpDialer struct {
	serverAddr string
	netDialer  net.Dialer
}

func newTCPDialer(serverAddr string) *tcpDialer {
	return &tcpDialer{serverAddr: serverAddr}
}

func (d *tcpDialer) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	if network == "" {
		network = "tcp"
	}
	return d.netDialer.DialContext(ctx, network, d.serverAddr)
}
