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

package badge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/event"
	"github.com/geneledger/geneledger/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultIssuanceTimeout = 10 * time.Second

// CredentialRequest asks the badge minter to issue a bound credential
type CredentialRequest struct {
	TokenID    string
	ProtocolID string
	Owner      common.Address
	Rarity     ledger.Rarity
	Attributes []ledger.CredentialAttribute
}

// Issuer issues credentials to their owners. Issuing the same token id more
// than once must have no additional effect
type Issuer interface {
	Issue(context.Context, CredentialRequest) error
}

type IssuerFunc func(context.Context, CredentialRequest) error

func (f IssuerFunc) Issue(ctx context.Context, req CredentialRequest) error {
	return f(ctx, req)
}

// IssuanceLedger looks up bound credentials and records their issuance
type IssuanceLedger interface {
	Credential(tokenID string) (ledger.Credential, error)
	ConfirmIssuance(ctx context.Context, tokenID string) error
}

type DispatcherConfig struct {
	Logger          *slog.Logger
	PromRegistry    prometheus.Registerer
	IssuanceTimeout time.Duration
}

// Dispatcher forwards credential.requested events to an Issuer and confirms
// each successful issuance. Requests for credentials that are already issued
// are ignored. Failed issuances are logged and left pending for Redeliver
type Dispatcher struct {
	bus      *event.EventBus
	issuer   Issuer
	ledger   IssuanceLedger
	logger   *slog.Logger
	timeout  time.Duration
	metrics  dispatcherMetrics
	subId    event.EventSubscriberId
	inflight map[string]struct{}
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

func NewDispatcher(
	bus *event.EventBus,
	issuer Issuer,
	issuanceLedger IssuanceLedger,
	cfg DispatcherConfig,
) (*Dispatcher, error) {
	if bus == nil || issuer == nil || issuanceLedger == nil {
		return nil, fmt.Errorf(
			"%w: dispatcher requires an event bus, issuer and ledger",
			ledger.ErrInvalidArgument,
		)
	}
	d := &Dispatcher{
		bus:      bus,
		issuer:   issuer,
		ledger:   issuanceLedger,
		logger:   cfg.Logger,
		timeout:  cfg.IssuanceTimeout,
		inflight: make(map[string]struct{}),
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	d.logger = d.logger.With("component", "badge")
	if d.timeout <= 0 {
		d.timeout = DefaultIssuanceTimeout
	}
	d.metrics.init(cfg.PromRegistry)
	return d, nil
}

// Start subscribes the dispatcher to credential requests
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.subId = d.bus.SubscribeFunc(event.CredentialRequestedEventType, d.handleEvent)
	d.started = true
}

// Stop unsubscribes the dispatcher and aborts any issuance in progress
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.bus.Unsubscribe(event.CredentialRequestedEventType, d.subId)
	d.cancel()
	d.started = false
}

func (d *Dispatcher) handleEvent(evt event.Event) {
	data, ok := evt.Data.(CredentialRequestedData)
	if !ok {
		d.logger.Warn(
			"unexpected credential request payload",
			"type", fmt.Sprintf("%T", evt.Data),
		)
		return
	}
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	if ctx == nil {
		return
	}
	_ = d.Dispatch(ctx, data.TokenID)
}

// Dispatch issues a single bound credential and confirms it on success.
// Credentials that are already issued, or whose issuance is running, are
// skipped
func (d *Dispatcher) Dispatch(ctx context.Context, tokenID string) error {
	d.mu.Lock()
	if _, ok := d.inflight[tokenID]; ok {
		d.mu.Unlock()
		d.metrics.requests.WithLabelValues("skipped").Inc()
		return nil
	}
	d.inflight[tokenID] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, tokenID)
		d.mu.Unlock()
	}()
	credential, err := d.ledger.Credential(tokenID)
	if err != nil {
		d.metrics.requests.WithLabelValues("failed").Inc()
		d.logger.Warn(
			"credential request for unknown token",
			"token_id", tokenID,
			"error", err,
		)
		return err
	}
	if credential.Issued {
		d.metrics.requests.WithLabelValues("skipped").Inc()
		return nil
	}
	req := CredentialRequest{
		TokenID:    credential.TokenID,
		ProtocolID: credential.ProtocolID,
		Owner:      credential.Owner,
		Rarity:     credential.Rarity,
		Attributes: credential.Attributes,
	}
	issueCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.issuer.Issue(issueCtx, req); err != nil {
		d.metrics.requests.WithLabelValues("failed").Inc()
		d.logger.Error(
			"credential issuance failed",
			"token_id", req.TokenID,
			"protocol", req.ProtocolID,
			"owner", req.Owner.Hex(),
			"error", err,
		)
		return fmt.Errorf("issue credential %s: %w", req.TokenID, err)
	}
	if err := d.ledger.ConfirmIssuance(ctx, req.TokenID); err != nil {
		d.metrics.requests.WithLabelValues("failed").Inc()
		d.logger.Error(
			"failed to confirm credential issuance",
			"token_id", req.TokenID,
			"error", err,
		)
		return err
	}
	d.metrics.requests.WithLabelValues("issued").Inc()
	d.logger.Info(
		"credential issued",
		"token_id", req.TokenID,
		"owner", req.Owner.Hex(),
		"rarity", req.Rarity.String(),
	)
	return nil
}

// CredentialRequestedData is the payload of a credential.requested event
type CredentialRequestedData = event.CredentialRequestedEvent

// RequestIssuance publishes a credential.requested event for a bound credential
func RequestIssuance(bus *event.EventBus, credential ledger.Credential, redelivery bool) {
	bus.PublishAsync(
		event.CredentialRequestedEventType,
		event.NewEvent(
			event.CredentialRequestedEventType,
			CredentialRequestedData{
				TokenID:    credential.TokenID,
				ProtocolID: credential.ProtocolID,
				Owner:      credential.Owner,
				Rarity:     credential.Rarity,
				Redelivery: redelivery,
			},
		),
	)
}

// Redeliver publishes a new credential request for every bound credential
// that has not been issued yet and returns how many were requested
func (e *Engine) Redeliver(bus *event.EventBus) int {
	pending := e.PendingCredentials()
	for _, credential := range pending {
		RequestIssuance(bus, credential, true)
	}
	if len(pending) > 0 {
		e.logger.Debug("redelivered credential requests", "count", len(pending))
	}
	return len(pending)
}
