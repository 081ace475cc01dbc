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

package sqlite

import (
	"sync"
	"time"

	"github.com/geneledger/geneledger/database/plugin"
)

var (
	cmdlineOptions struct {
		dataDir       string
		busyTimeoutMs uint64
	}
	cmdlineOptionsMutex sync.RWMutex
)

// initCmdlineOptions sets default values for cmdlineOptions
func initCmdlineOptions() {
	cmdlineOptionsMutex.Lock()
	defer cmdlineOptionsMutex.Unlock()
	cmdlineOptions.dataDir = ".geneledger"
	cmdlineOptions.busyTimeoutMs = uint64(DefaultBusyTimeout.Milliseconds())
}

// Register plugin
func init() {
	initCmdlineOptions()
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeMetadata,
			Name:               "sqlite",
			Description:        "SQLite ledger event index",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				{
					Name:         "data-dir",
					Type:         plugin.PluginOptionTypeString,
					Description:  "Data directory for sqlite storage",
					DefaultValue: ".geneledger",
					Dest:         &(cmdlineOptions.dataDir),
				},
				{
					Name:         "busy-timeout-ms",
					Type:         plugin.PluginOptionTypeUint,
					Description:  "Milliseconds to wait on a locked database",
					DefaultValue: uint64(DefaultBusyTimeout.Milliseconds()),
					Dest:         &(cmdlineOptions.busyTimeoutMs),
				},
			},
		},
	)
}

// CmdlineOptionFuncs returns the store options currently set through the
// plugin flags, environment and config file, excluding the data directory
func CmdlineOptionFuncs() []SqliteOptionFunc {
	cmdlineOptionsMutex.RLock()
	defer cmdlineOptionsMutex.RUnlock()
	busyTimeout := time.Duration(min(cmdlineOptions.busyTimeoutMs, 1<<31)) * time.Millisecond //nolint:gosec // bounded above
	return []SqliteOptionFunc{
		WithBusyTimeout(busyTimeout),
	}
}

func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	dataDir := cmdlineOptions.dataDir
	cmdlineOptionsMutex.RUnlock()
	// Logger and promRegistry use defaults when unset
	opts := append(CmdlineOptionFuncs(), WithDataDir(dataDir))
	p, err := NewWithOptions(opts...)
	if err != nil {
		// Return a plugin that defers the error to Start()
		return plugin.NewErrorPlugin(err)
	}
	return p
}
