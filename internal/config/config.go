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

package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/database/plugin"
	"github.com/geneledger/geneledger/governance"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "geneledger.config"

const (
	DefaultShutdownTimeout = "30s"
	DefaultSweepInterval   = "30s"
	EnvPrefix              = "geneledger"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
)

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type Config struct {
	DatabasePath    string `yaml:"databasePath"    split_words:"true"`
	BlobPlugin      string `yaml:"blobPlugin"      split_words:"true"`
	MetadataPlugin  string `yaml:"metadataPlugin"  split_words:"true"`
	BindAddr        string `yaml:"bindAddr"        split_words:"true"`
	MetricsPort     uint   `yaml:"metricsPort"     split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`
	SweepInterval   string `yaml:"sweepInterval"   split_words:"true"`
	// Admins are the hex addresses allowed to run privileged operations
	Admins                    []string `yaml:"admins"`
	AutoActivate              bool     `yaml:"autoActivate"              split_words:"true"`
	VoteWeighting             string   `yaml:"voteWeighting"             split_words:"true"`
	MinProposalReputation     uint64   `yaml:"minProposalReputation"     split_words:"true"`
	ExecutionReputationReward uint64   `yaml:"executionReputationReward" split_words:"true"`
	VerificationThreshold     uint32   `yaml:"verificationThreshold"     split_words:"true"`
	LockTimeout               string   `yaml:"lockTimeout"               split_words:"true"`
	ExecutionTimeout          string   `yaml:"executionTimeout"          split_words:"true"`
	IssuanceTimeout           string   `yaml:"issuanceTimeout"           split_words:"true"`
	Tracing                   bool     `yaml:"tracing"`
	TracingStdout             bool     `yaml:"tracingStdout"             split_words:"true"`
}

// AdminAddresses parses the configured administrator addresses
func (c *Config) AdminAddresses() ([]common.Address, error) {
	ret := make([]common.Address, 0, len(c.Admins))
	for _, admin := range c.Admins {
		if !common.IsHexAddress(admin) {
			return nil, fmt.Errorf("invalid admin address: %q", admin)
		}
		ret = append(ret, common.HexToAddress(admin))
	}
	return ret, nil
}

// Durations holds the parsed duration settings. Unset values are zero
type Durations struct {
	Shutdown  time.Duration
	Sweep     time.Duration
	Lock      time.Duration
	Execution time.Duration
	Issuance  time.Duration
}

// ParseDurations parses every duration setting
func (c *Config) ParseDurations() (Durations, error) {
	var ret Durations
	for _, d := range []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"shutdownTimeout", c.ShutdownTimeout, &ret.Shutdown},
		{"sweepInterval", c.SweepInterval, &ret.Sweep},
		{"lockTimeout", c.LockTimeout, &ret.Lock},
		{"executionTimeout", c.ExecutionTimeout, &ret.Execution},
		{"issuanceTimeout", c.IssuanceTimeout, &ret.Issuance},
	} {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Durations{}, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dest = v
	}
	return ret, nil
}

func (c *Config) validate() error {
	if _, err := c.AdminAddresses(); err != nil {
		return err
	}
	if c.VoteWeighting != "" {
		if _, err := governance.ParseVoteWeighting(c.VoteWeighting); err != nil {
			return err
		}
	}
	if _, err := c.ParseDurations(); err != nil {
		return err
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		DatabasePath:          ".geneledger",
		BlobPlugin:            DefaultBlobPlugin,
		MetadataPlugin:        DefaultMetadataPlugin,
		BindAddr:              "0.0.0.0",
		MetricsPort:           12898,
		ShutdownTimeout:       DefaultShutdownTimeout,
		SweepInterval:         DefaultSweepInterval,
		VoteWeighting:         string(governance.WeightingLinear),
		VerificationThreshold: 3,
		LockTimeout:           "2s",
		ExecutionTimeout:      "10s",
		IssuanceTimeout:       "10s",
		// Matches governance.DefaultExecutionReputationReward
		ExecutionReputationReward: 10,
	}
}

var globalConfig = defaultConfig()

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.geneledger/geneledger.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".geneledger", "geneledger.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/geneledger/geneledger.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/geneledger/geneledger.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// First unmarshal into temp config to handle plugin sections
		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		// If config section exists, use it for main config
		if tempCfg.Config != nil {
			// Overlay config values onto existing defaults
			configBytes, err := yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
			err = yaml.Unmarshal(configBytes, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}

		// Process plugin configurations
		pluginConfig := make(map[string]map[string]map[string]any)
		if tempCfg.Blob != nil {
			pluginConfig["blob"] = tempCfg.Blob
		}
		if tempCfg.Metadata != nil {
			pluginConfig["metadata"] = tempCfg.Metadata
		}
		if tempCfg.Database != nil {
			if tempCfg.Database.Blob != nil {
				if name, ok := extractPluginName(tempCfg.Database.Blob); ok {
					globalConfig.BlobPlugin = name
				}
				mergePluginConfig(pluginConfig, "blob", tempCfg.Database.Blob)
			}
			if tempCfg.Database.Metadata != nil {
				if name, ok := extractPluginName(tempCfg.Database.Metadata); ok {
					globalConfig.MetadataPlugin = name
				}
				mergePluginConfig(pluginConfig, "metadata", tempCfg.Database.Metadata)
			}
		}
		if len(pluginConfig) > 0 {
			err = plugin.ProcessConfig(pluginConfig)
			if err != nil {
				return nil, fmt.Errorf(
					"error processing plugin config: %w",
					err,
				)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process(EnvPrefix, globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	err = plugin.ProcessEnvVars()
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	if err := globalConfig.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return globalConfig, nil
}

// extractPluginName removes the "plugin" key from a database section and
// returns its value
func extractPluginName(section map[string]any) (string, bool) {
	pluginVal, exists := section["plugin"]
	if !exists {
		return "", false
	}
	delete(section, "plugin")
	pluginName, ok := pluginVal.(string)
	return pluginName, ok
}

func mergePluginConfig(
	pluginConfig map[string]map[string]map[string]any,
	typeName string,
	section map[string]any,
) {
	sectionConfig := make(map[string]map[string]any)
	for k, v := range section {
		switch val := v.(type) {
		case map[string]any:
			sectionConfig[k] = val
		case map[any]any:
			// Convert map[any]any to map[string]any
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			sectionConfig[k] = stringAnyMap
		default:
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				typeName,
				k,
				v,
			)
		}
	}
	// Merge with existing config instead of overwriting
	if pluginConfig[typeName] == nil {
		pluginConfig[typeName] = sectionConfig
	} else {
		maps.Copy(pluginConfig[typeName], sectionConfig)
	}
}

func GetConfig() *Config {
	return globalConfig
}

// ErrNoAdmins is returned when serving without any configured administrator
var ErrNoAdmins = errors.New("no administrators configured")
