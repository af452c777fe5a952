// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package test

import (
	"context"

	"github.com/sapcc/cumulus/internal/client"
	"github.com/sapcc/cumulus/internal/core"
)

// Connector is a client.Connector that connects to an in-memory SwiftBackend
// instead of authenticating with Keystone.
type Connector struct {
	Backend *SwiftBackend
	Config  *core.Configuration
}

// Connect implements the client.Connector interface.
func (tc Connector) Connect(ctx context.Context) (*client.Connection, error) {
	account, err := tc.Backend.Account()
	if err != nil {
		return nil, err
	}
	return client.NewConnection(account, tc.Config), nil
}
