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

package metadata

import (
	"fmt"
	"log/slog"

	"github.com/geneledger/geneledger/database/models"
	"github.com/geneledger/geneledger/database/plugin"
	_ "github.com/geneledger/geneledger/database/plugin/metadata/postgres"
	"github.com/geneledger/geneledger/database/plugin/metadata/sqlite"
	"github.com/geneledger/geneledger/database/types"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type MetadataStore interface {
	// Database
	Close() error
	DB() *gorm.DB
	Transaction() types.Txn

	// Ledger event index
	AddLedgerEvents(
		[]*models.LedgerEvent,
		types.Txn,
	) error
	GetLedgerEvents(
		uint64, // afterSeq
		int, // limit
		types.Txn,
	) ([]models.LedgerEvent, error)
	GetLedgerEventsByEntity(
		string, // entityKind
		string, // entityID
		types.Txn,
	) ([]models.LedgerEvent, error)
	GetLastLedgerEventSeq(types.Txn) (uint64, error)
}

// New returns a started metadata store. The sqlite plugin is configured
// directly from the arguments, while other plugins take their settings from
// the plugin registry
func New(
	pluginName, dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	if pluginName == "" || pluginName == "sqlite" {
		opts := append(
			sqlite.CmdlineOptionFuncs(),
			sqlite.WithDataDir(dataDir),
			sqlite.WithLogger(logger),
			sqlite.WithPromRegistry(promRegistry),
		)
		store, err := sqlite.NewWithOptions(opts...)
		if err != nil {
			return nil, err
		}
		if err := store.Start(); err != nil {
			return nil, err
		}
		return store, nil
	}
	p, err := plugin.StartPlugin(plugin.PluginTypeMetadata, pluginName)
	if err != nil {
		return nil, err
	}
	metadataStore, ok := p.(MetadataStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement MetadataStore interface",
			pluginName,
		)
	}
	return metadataStore, nil
}
