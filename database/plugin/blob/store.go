// Copyright 2025 Blink Labs Software
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

package blob

import (
	"fmt"
	"log/slog"

	"github.com/geneledger/geneledger/database/plugin"
	"github.com/geneledger/geneledger/database/plugin/blob/badger"
	"github.com/geneledger/geneledger/database/types"
	"github.com/prometheus/client_golang/prometheus"
)

// BlobStore holds ledger event payloads keyed by sequence
type BlobStore interface {
	Close() error
	NewTransaction(bool) types.Txn
	GetEvent(types.Txn, uint64) ([]byte, error)
	PutEvent(types.Txn, uint64, []byte) error
	DeleteEvent(types.Txn, uint64) error
	NewEventCursor(types.Txn, uint64) types.EventCursor
}

// New returns a started blob store. The badger plugin takes its data
// directory, logger and registry from the arguments and everything else from
// its plugin options. Other plugins are configured by the registry alone
func New(
	pluginName, dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (BlobStore, error) {
	if pluginName == "" || pluginName == "badger" {
		opts := append(
			badger.CmdlineOptionFuncs(),
			badger.WithDataDir(dataDir),
			badger.WithLogger(logger),
			badger.WithPromRegistry(promRegistry),
		)
		store, err := badger.New(opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	// Get and start the plugin
	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName)
	if err != nil {
		return nil, err
	}

	// Type assert to BlobStore interface
	blobStore, ok := p.(BlobStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}

	return blobStore, nil
}
