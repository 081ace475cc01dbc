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

package plugin

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

type PluginType int

const (
	PluginTypeBlob PluginType = iota + 1
	PluginTypeMetadata
)

// EnvPrefix is prepended to plugin option environment variables
const EnvPrefix = "GENELEDGER"

func PluginTypeName(pluginType PluginType) string {
	switch pluginType {
	case PluginTypeBlob:
		return "blob"
	case PluginTypeMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = iota + 1
	PluginOptionTypeBool
	PluginOptionTypeInt
	PluginOptionTypeUint
)

type PluginOption struct {
	DefaultValue any
	Dest         any
	Name         string
	Description  string
	Type         PluginOptionType
}

type PluginEntry struct {
	NewFromOptionsFunc func() Plugin
	Name               string
	Description        string
	Options            []PluginOption
	Type               PluginType
}

var (
	pluginEntries      []PluginEntry
	pluginEntriesMutex sync.RWMutex
)

// Register adds a plugin entry to the registry. It is normally called from
// the init() function of the plugin package
func Register(pluginEntry PluginEntry) {
	pluginEntriesMutex.Lock()
	defer pluginEntriesMutex.Unlock()
	pluginEntries = append(pluginEntries, pluginEntry)
}

// GetPlugins returns the registered plugin entries of the given type
func GetPlugins(pluginType PluginType) []PluginEntry {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	ret := []PluginEntry{}
	for _, p := range pluginEntries {
		if p.Type == pluginType {
			ret = append(ret, p)
		}
	}
	return ret
}

// GetPlugin returns a new instance of the named plugin, or nil if it's not registered
func GetPlugin(pluginType PluginType, pluginName string) Plugin {
	entry := findEntry(pluginType, pluginName)
	if entry == nil || entry.NewFromOptionsFunc == nil {
		return nil
	}
	return entry.NewFromOptionsFunc()
}

func findEntry(pluginType PluginType, pluginName string) *PluginEntry {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	// Later registrations win, so tests can shadow a built-in plugin
	for i := len(pluginEntries) - 1; i >= 0; i-- {
		p := &pluginEntries[i]
		if p.Type == pluginType && p.Name == pluginName {
			return p
		}
	}
	return nil
}

func optionFlagName(entry PluginEntry, opt PluginOption) string {
	return fmt.Sprintf(
		"%s-%s-%s",
		PluginTypeName(entry.Type),
		entry.Name,
		opt.Name,
	)
}

func optionEnvName(entry PluginEntry, opt PluginOption) string {
	ret := strings.Join(
		[]string{
			EnvPrefix,
			PluginTypeName(entry.Type),
			entry.Name,
			opt.Name,
		},
		"_",
	)
	return strings.ToUpper(strings.ReplaceAll(ret, "-", "_"))
}

// PopulateCmdlineOptions adds a flag for every registered plugin option
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, entry := range pluginEntries {
		for _, opt := range entry.Options {
			flagName := optionFlagName(entry, opt)
			if fs.Lookup(flagName) != nil {
				continue
			}
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				def, _ := opt.DefaultValue.(string)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", flagName)
				}
				fs.StringVar(dest, flagName, def, opt.Description)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				def, _ := opt.DefaultValue.(bool)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", flagName)
				}
				fs.BoolVar(dest, flagName, def, opt.Description)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				def, _ := opt.DefaultValue.(int)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", flagName)
				}
				fs.IntVar(dest, flagName, def, opt.Description)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				def, _ := opt.DefaultValue.(uint64)
				if !ok {
					return fmt.Errorf("invalid destination for option %s", flagName)
				}
				fs.Uint64Var(dest, flagName, def, opt.Description)
			default:
				return fmt.Errorf(
					"unknown plugin option type %d for option %s",
					opt.Type,
					flagName,
				)
			}
		}
	}
	return nil
}

// ProcessEnvVars applies plugin options from environment variables named like
// GENELEDGER_METADATA_SQLITE_DATA_DIR
func ProcessEnvVars() error {
	pluginEntriesMutex.RLock()
	defer pluginEntriesMutex.RUnlock()
	for _, entry := range pluginEntries {
		for _, opt := range entry.Options {
			envName := optionEnvName(entry, opt)
			envVal, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			var value any
			switch opt.Type {
			case PluginOptionTypeString:
				value = envVal
			case PluginOptionTypeBool:
				v, err := strconv.ParseBool(envVal)
				if err != nil {
					return fmt.Errorf("invalid value for %s: %w", envName, err)
				}
				value = v
			case PluginOptionTypeInt:
				v, err := strconv.Atoi(envVal)
				if err != nil {
					return fmt.Errorf("invalid value for %s: %w", envName, err)
				}
				value = v
			case PluginOptionTypeUint:
				v, err := strconv.ParseUint(envVal, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid value for %s: %w", envName, err)
				}
				value = v
			}
			if err := opt.set(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProcessConfig applies plugin options from a config file. The map is keyed
// by plugin type name, then plugin name, then option name
func ProcessConfig(pluginConfig map[string]map[string]map[string]any) error {
	for typeName, plugins := range pluginConfig {
		var pluginType PluginType
		switch typeName {
		case PluginTypeName(PluginTypeBlob):
			pluginType = PluginTypeBlob
		case PluginTypeName(PluginTypeMetadata):
			pluginType = PluginTypeMetadata
		default:
			return fmt.Errorf("unknown plugin type: %s", typeName)
		}
		for pluginName, options := range plugins {
			for optionName, value := range options {
				if err := SetPluginOption(pluginType, pluginName, optionName, value); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
