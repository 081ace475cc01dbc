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

package facade

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/badge"
	"github.com/geneledger/geneledger/event"
	"github.com/geneledger/geneledger/funding"
	"github.com/geneledger/geneledger/governance"
	"github.com/geneledger/geneledger/ledger"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/geneledger/geneledger/facade"

type Config struct {
	Logger         *slog.Logger
	PromRegistry   prometheus.Registerer
	TracerProvider trace.TracerProvider
	// EventBus receives credential requests. Issuance is not requested when nil
	EventBus *event.EventBus
	// Admins may run privileged operations
	Admins []common.Address
}

// Facade is the single entry point for callers. It attributes every mutating
// call to a caller address, checks the caller may perform it and dispatches
// to the engines
type Facade struct {
	store      *ledger.Store
	governance *governance.Engine
	funding    *funding.Engine
	badge      *badge.Engine
	bus        *event.EventBus
	clock      clockwork.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
	admins     map[common.Address]struct{}
	metrics    facadeMetrics
}

func New(
	store *ledger.Store,
	gov *governance.Engine,
	fund *funding.Engine,
	badges *badge.Engine,
	cfg Config,
) (*Facade, error) {
	if store == nil || gov == nil || fund == nil || badges == nil {
		return nil, fmt.Errorf(
			"%w: facade requires a store and all engines",
			ledger.ErrInvalidArgument,
		)
	}
	f := &Facade{
		store:      store,
		governance: gov,
		funding:    fund,
		badge:      badges,
		bus:        cfg.EventBus,
		clock:      store.Clock(),
		logger:     cfg.Logger,
		admins:     make(map[common.Address]struct{}, len(cfg.Admins)),
	}
	if f.logger == nil {
		f.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	f.logger = f.logger.With("component", "facade")
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	f.tracer = tp.Tracer(tracerName)
	for _, admin := range cfg.Admins {
		f.admins[admin] = struct{}{}
	}
	f.metrics.init(cfg.PromRegistry)
	return f, nil
}

// IsAdmin reports whether addr is a configured administrator
func (f *Facade) IsAdmin(addr common.Address) bool {
	_, ok := f.admins[addr]
	return ok
}

func (f *Facade) requireAdmin(caller common.Address) error {
	if !f.IsAdmin(caller) {
		return fmt.Errorf("%w: %s is not an administrator", ledger.ErrUnauthorized, caller)
	}
	return nil
}

func (f *Facade) startSpan(
	ctx context.Context,
	op string,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	return f.tracer.Start(
		ctx,
		"facade."+op,
		trace.WithAttributes(attrs...),
	)
}

func (f *Facade) endSpan(span trace.Span, op string, err error) {
	defer span.End()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		f.metrics.calls.WithLabelValues(op, "error").Inc()
		f.logger.Debug("operation failed", "op", op, "error", err)
		return
	}
	f.metrics.calls.WithLabelValues(op, "ok").Inc()
}

func callerAttr(caller common.Address) attribute.KeyValue {
	return attribute.String("caller", caller.Hex())
}

// RegisterPrincipal joins addr as a member. Registering an existing member
// has no effect
func (f *Facade) RegisterPrincipal(ctx context.Context, addr common.Address) (err error) {
	ctx, span := f.startSpan(ctx, "RegisterPrincipal", callerAttr(addr))
	defer func() { f.endSpan(span, "RegisterPrincipal", err) }()
	release, err := f.store.Lock(ctx, ledger.PrincipalRef(addr))
	if err != nil {
		return err
	}
	defer release()
	_, events, err := f.store.Enroll(addr)
	if err != nil || len(events) == 0 {
		return err
	}
	if _, err := f.store.Commit(ctx, events...); err != nil {
		return err
	}
	f.logger.Info("principal registered", "address", addr.Hex())
	return nil
}

// grant commits an administrative grant to principal, enrolling it in the
// same commit when it is not a member yet
func (f *Facade) grant(
	ctx context.Context,
	caller common.Address,
	principal common.Address,
	payload ledger.Payload,
) error {
	if err := f.requireAdmin(caller); err != nil {
		return err
	}
	release, err := f.store.Lock(ctx, ledger.PrincipalRef(principal))
	if err != nil {
		return err
	}
	defer release()
	_, events, err := f.store.Enroll(principal)
	if err != nil {
		return err
	}
	events = append(events, ledger.NewEvent(caller, payload))
	if _, err := f.store.Commit(ctx, events...); err != nil {
		return err
	}
	f.logger.Info(
		"administrative grant",
		"kind", string(payload.EventKind()),
		"admin", caller.Hex(),
		"principal", principal.Hex(),
	)
	return nil
}

// GrantVotingPower adds voting power to a principal
func (f *Facade) GrantVotingPower(
	ctx context.Context,
	caller common.Address,
	principal common.Address,
	amount uint64,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"GrantVotingPower",
		callerAttr(caller),
		attribute.String("principal", principal.Hex()),
	)
	defer func() { f.endSpan(span, "GrantVotingPower", err) }()
	if amount == 0 {
		return fmt.Errorf("%w: voting power grant must be positive", ledger.ErrInvalidAmount)
	}
	return f.grant(ctx, caller, principal, ledger.VotingPowerGranted{
		Address: principal,
		Amount:  amount,
	})
}

// GrantReputation adds reputation to a principal
func (f *Facade) GrantReputation(
	ctx context.Context,
	caller common.Address,
	principal common.Address,
	amount uint64,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"GrantReputation",
		callerAttr(caller),
		attribute.String("principal", principal.Hex()),
	)
	defer func() { f.endSpan(span, "GrantReputation", err) }()
	if amount == 0 {
		return fmt.Errorf("%w: reputation grant must be positive", ledger.ErrInvalidAmount)
	}
	return f.grant(ctx, caller, principal, ledger.ReputationGranted{
		Address: principal,
		Amount:  amount,
	})
}

// SetVerifierAuthorization adds or removes a principal from the authorized
// verifier set
func (f *Facade) SetVerifierAuthorization(
	ctx context.Context,
	caller common.Address,
	principal common.Address,
	authorized bool,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"SetVerifierAuthorization",
		callerAttr(caller),
		attribute.String("principal", principal.Hex()),
		attribute.Bool("authorized", authorized),
	)
	defer func() { f.endSpan(span, "SetVerifierAuthorization", err) }()
	return f.grant(ctx, caller, principal, ledger.VerifierAuthorizationSet{
		Address:    principal,
		Authorized: authorized,
	})
}

type BootstrapInput struct {
	Principal   common.Address
	VotingPower uint64
	Reputation  uint64
	Verifier    bool
}

// Bootstrap grants voting power, reputation and optionally the verifier role
// in a single audited event naming the acting administrator
func (f *Facade) Bootstrap(
	ctx context.Context,
	caller common.Address,
	in BootstrapInput,
) (err error) {
	ctx, span := f.startSpan(
		ctx,
		"Bootstrap",
		callerAttr(caller),
		attribute.String("principal", in.Principal.Hex()),
	)
	defer func() { f.endSpan(span, "Bootstrap", err) }()
	if in.VotingPower == 0 && in.Reputation == 0 && !in.Verifier {
		return fmt.Errorf("%w: bootstrap grants nothing", ledger.ErrInvalidArgument)
	}
	return f.grant(ctx, caller, in.Principal, ledger.PrincipalBootstrapped{
		Address:     in.Principal,
		Admin:       caller,
		VotingPower: in.VotingPower,
		Reputation:  in.Reputation,
		Verifier:    in.Verifier,
	})
}
