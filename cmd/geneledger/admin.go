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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/facade"
	"github.com/geneledger/geneledger/internal/config"
	"github.com/geneledger/geneledger/internal/node"
	"github.com/spf13/cobra"
)

var adminFlags = struct {
	as        string
	principal string
}{}

func parseAddress(name string, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address: %q", name, value)
	}
	return common.HexToAddress(value), nil
}

// adminCaller returns the --as address, or the first configured administrator
func adminCaller(cfg *config.Config) (common.Address, error) {
	if adminFlags.as != "" {
		return parseAddress("--as", adminFlags.as)
	}
	admins, err := cfg.AdminAddresses()
	if err != nil {
		return common.Address{}, err
	}
	if len(admins) == 0 {
		return common.Address{}, config.ErrNoAdmins
	}
	return admins[0], nil
}

// adminRun runs fn against a started node on behalf of the acting admin
func adminRun(
	cmd *cobra.Command,
	fn func(f *facade.Facade, caller common.Address, principal common.Address) error,
) {
	cfg := configFromCommand(cmd)
	logger := commonRun()
	caller, err := adminCaller(cfg)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
	var principal common.Address
	if adminFlags.principal != "" {
		principal, err = parseAddress("--principal", adminFlags.principal)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
	}
	err = node.WithFacade(
		cmd.Context(),
		cfg,
		logger,
		func(f *facade.Facade) error {
			return fn(f, caller, principal)
		},
	)
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func principalFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&adminFlags.principal, "principal", "", "target principal address")
	_ = cmd.MarkFlagRequired("principal")
}

func adminBootstrapCommand() *cobra.Command {
	var votingPower, reputation uint64
	var verifier bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Grant a principal its initial voting power, reputation and role",
		Run: func(cmd *cobra.Command, args []string) {
			adminRun(cmd, func(f *facade.Facade, caller, principal common.Address) error {
				return f.Bootstrap(cmd.Context(), caller, facade.BootstrapInput{
					Principal:   principal,
					VotingPower: votingPower,
					Reputation:  reputation,
					Verifier:    verifier,
				})
			})
		},
	}
	cmd.Flags().Uint64Var(&votingPower, "voting-power", 0, "voting power to grant")
	cmd.Flags().Uint64Var(&reputation, "reputation", 0, "reputation to grant")
	cmd.Flags().BoolVar(&verifier, "verifier", false, "authorize the principal as a verifier")
	principalFlag(cmd)
	return cmd
}

func adminGrantCommand(
	use string,
	short string,
	grant func(*facade.Facade, context.Context, common.Address, common.Address, uint64) error,
) *cobra.Command {
	var amount uint64
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			adminRun(cmd, func(f *facade.Facade, caller, principal common.Address) error {
				return grant(f, cmd.Context(), caller, principal, amount)
			})
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to grant")
	_ = cmd.MarkFlagRequired("amount")
	principalFlag(cmd)
	return cmd
}

func adminSetVerifierCommand() *cobra.Command {
	var authorized bool
	cmd := &cobra.Command{
		Use:   "set-verifier",
		Short: "Authorize or revoke a verifier",
		Run: func(cmd *cobra.Command, args []string) {
			adminRun(cmd, func(f *facade.Facade, caller, principal common.Address) error {
				return f.SetVerifierAuthorization(cmd.Context(), caller, principal, authorized)
			})
		},
	}
	cmd.Flags().BoolVar(&authorized, "authorized", true, "whether the principal may verify protocols")
	principalFlag(cmd)
	return cmd
}

func adminStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show ledger statistics",
		Run: func(cmd *cobra.Command, args []string) {
			adminRun(cmd, func(f *facade.Facade, _, _ common.Address) error {
				_, err := fmt.Println(f.Stats().String())
				return err
			})
		},
	}
}

func adminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative ledger operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("a subcommand is required")
		},
	}
	cmd.PersistentFlags().StringVar(&adminFlags.as, "as", "", "acting administrator address (defaults to the first configured admin)")
	cmd.AddCommand(
		adminBootstrapCommand(),
		adminGrantCommand(
			"grant-power",
			"Grant voting power to a principal",
			(*facade.Facade).GrantVotingPower,
		),
		adminGrantCommand(
			"grant-reputation",
			"Grant reputation to a principal",
			(*facade.Facade).GrantReputation,
		),
		adminSetVerifierCommand(),
		adminStatsCommand(),
	)
	return cmd
}
