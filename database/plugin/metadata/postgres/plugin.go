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


package postgres

import (
	"math"
	"sync"

	"github.com/geneledger/geneledger/database/plugin"
)

// connOptions mirrors the plugin flags. The password has no default and must
// be supplied by the operator
type connOptions struct {
	dsn      string
	host     string
	user     string
	password string
	database string
	sslMode  string
	timeZone string
	port     uint64
	maxConns uint64
}

var (
	cmdlineOptions = connOptions{
		host:     "localhost",
		port:     5432,
		user:     "postgres",
		database: "geneledger",
		sslMode:  "disable",
		timeZone: "UTC",
		maxConns: DefaultMaxConnections,
	}
	cmdlineOptionsMutex sync.RWMutex
)

func (o connOptions) optionFuncs() []PostgresOptionFunc {
	return []PostgresOptionFunc{
		WithDSN(o.dsn),
		WithHost(o.host),
		WithPort(uint(min(o.port, math.MaxUint16))), //nolint:gosec // bounded above
		WithUser(o.user),
		WithPassword(o.password),
		WithDatabase(o.database),
		WithSSLMode(o.sslMode),
		WithTimeZone(o.timeZone),
		WithMaxConnections(int(min(o.maxConns, 1<<16))), //nolint:gosec // bounded above
	}
}

func stringOption(name, description string, dest *string) plugin.PluginOption {
	return plugin.PluginOption{
		Name:         name,
		Type:         plugin.PluginOptionTypeString,
		Description:  description,
		DefaultValue: *dest,
		Dest:         dest,
	}
}

func uintOption(name, description string, dest *uint64) plugin.PluginOption {
	return plugin.PluginOption{
		Name:         name,
		Type:         plugin.PluginOptionTypeUint,
		Description:  description,
		DefaultValue: *dest,
		Dest:         dest,
	}
}

func init() {
	o := &cmdlineOptions
	plugin.Register(
		plugin.PluginEntry{
			Type:               plugin.PluginTypeMetadata,
			Name:               "postgres",
			Description:        "Postgres ledger event index",
			NewFromOptionsFunc: NewFromCmdlineOptions,
			Options: []plugin.PluginOption{
				stringOption("dsn", "Postgres DSN, overrides the individual connection options", &o.dsn),
				stringOption("host", "Postgres host", &o.host),
				uintOption("port", "Postgres port", &o.port),
				stringOption("user", "Postgres user", &o.user),
				stringOption("password", "Postgres password (required)", &o.password),
				stringOption("database", "Postgres database holding the ledger event index", &o.database),
				stringOption("ssl-mode", "Postgres sslmode", &o.sslMode),
				stringOption("timezone", "Postgres TimeZone", &o.timeZone),
				uintOption("max-connections", "Maximum number of open Postgres connections", &o.maxConns),
			},
		},
	)
}

// NewFromCmdlineOptions builds the store from the plugin flags. Option errors
// surface from Start
func NewFromCmdlineOptions() plugin.Plugin {
	cmdlineOptionsMutex.RLock()
	opts := cmdlineOptions.optionFuncs()
	cmdlineOptionsMutex.RUnlock()
	p, err := NewWithOptions(opts...)
	if err != nil {
		return plugin.NewErrorPlugin(err)
	}
	return p
}
