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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/ledger"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultVerificationThreshold = 3

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	Clock        clockwork.Clock
	// VerificationThreshold is the number of attestations that verifies a protocol
	VerificationThreshold uint32
	// AutoRegister enrolls unknown authors in the commit of their first protocol
	AutoRegister bool
}

// Engine links verified protocols to research badges
type Engine struct {
	store        *ledger.Store
	logger       *slog.Logger
	clock        clockwork.Clock
	threshold    uint32
	autoRegister bool
	metrics      engineMetrics
}

func New(store *ledger.Store, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil ledger store", ledger.ErrInvalidArgument)
	}
	e := &Engine{
		store:        store,
		logger:       cfg.Logger,
		clock:        cfg.Clock,
		threshold:    cfg.VerificationThreshold,
		autoRegister: cfg.AutoRegister,
	}
	if e.threshold == 0 {
		e.threshold = DefaultVerificationThreshold
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e.logger = e.logger.With("component", "badge")
	if e.clock == nil {
		e.clock = store.Clock()
	}
	e.metrics.init(cfg.PromRegistry)
	return e, nil
}

func (e *Engine) Threshold() uint32 {
	return e.threshold
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

type ProtocolInput struct {
	Title       string
	Description string
	Category    string
	Tags        []string
	FileName    string
	FileSize    uint64
	ZKProofHash string
	// Draft keeps the protocol out of verification until it is published
	Draft bool
}

// SubmitProtocol records a new protocol by author and returns its id
func (e *Engine) SubmitProtocol(
	ctx context.Context,
	author common.Address,
	in ProtocolInput,
) (string, error) {
	if strings.TrimSpace(in.Title) == "" {
		return "", fmt.Errorf("%w: protocol title is required", ledger.ErrInvalidArgument)
	}
	status := ledger.ProtocolStatusPending
	if in.Draft {
		status = ledger.ProtocolStatusDraft
	}
	release, err := e.store.Lock(ctx, ledger.PrincipalRef(author))
	if err != nil {
		return "", err
	}
	defer release()
	var events []ledger.Event
	if e.autoRegister {
		if _, events, err = e.store.Enroll(author); err != nil {
			return "", err
		}
	}
	id := uuid.NewString()
	events = append(events, ledger.NewEvent(author, ledger.ProtocolSubmitted{
		ID:          id,
		Author:      author,
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Tags:        in.Tags,
		FileName:    in.FileName,
		FileSize:    in.FileSize,
		ZKProofHash: in.ZKProofHash,
		Status:      status,
		CreatedAt:   e.now(),
	}))
	if _, err := e.store.Commit(ctx, events...); err != nil {
		return "", err
	}
	e.metrics.submitted.Inc()
	e.logger.Info(
		"protocol submitted",
		"protocol", id,
		"author", author.Hex(),
		"status", status.String(),
	)
	return id, nil
}

// PublishProtocol moves a draft protocol to pending. Only the author may
// publish a protocol
func (e *Engine) PublishProtocol(
	ctx context.Context,
	actor common.Address,
	protocolID string,
) error {
	release, err := e.store.Lock(ctx, ledger.ProtocolRef(protocolID))
	if err != nil {
		return err
	}
	defer release()
	protocol, err := e.store.Protocol(protocolID)
	if err != nil {
		return err
	}
	if protocol.Author != actor {
		return fmt.Errorf("%w: only the author can publish a protocol", ledger.ErrUnauthorized)
	}
	if protocol.Status != ledger.ProtocolStatusDraft {
		return fmt.Errorf("%w: protocol is %s, not draft", ledger.ErrInvalidState, protocol.Status)
	}
	_, err = e.store.Append(
		ctx,
		ledger.NewEvent(actor, ledger.ProtocolPublished{ProtocolID: protocolID}),
	)
	return err
}

// RecordDownload counts one download of a published protocol
func (e *Engine) RecordDownload(
	ctx context.Context,
	actor common.Address,
	protocolID string,
) (uint64, error) {
	release, err := e.store.Lock(ctx, ledger.ProtocolRef(protocolID))
	if err != nil {
		return 0, err
	}
	defer release()
	protocol, err := e.store.Protocol(protocolID)
	if err != nil {
		return 0, err
	}
	switch protocol.Status {
	case ledger.ProtocolStatusPending, ledger.ProtocolStatusVerified:
	default:
		return 0, fmt.Errorf("%w: protocol is %s", ledger.ErrInvalidState, protocol.Status)
	}
	_, err = e.store.Append(
		ctx,
		ledger.NewEvent(actor, ledger.ProtocolDownloaded{ProtocolID: protocolID}),
	)
	if err != nil {
		return 0, err
	}
	return protocol.Downloads + 1, nil
}

// Verification is the result of recording an attestation
type Verification struct {
	ProtocolID        string
	Status            ledger.ProtocolStatus
	VerificationCount uint32
	// Credential is set only by the attestation that reached the threshold
	Credential *ledger.Credential
}

// RecordVerification records an attestation of a protocol by an authorized
// verifier. The attestation that first reaches the verification threshold
// verifies the protocol and binds a credential to it
func (e *Engine) RecordVerification(
	ctx context.Context,
	protocolID string,
	verifier common.Address,
) (Verification, error) {
	release, err := e.store.Lock(ctx, ledger.ProtocolRef(protocolID))
	if err != nil {
		return Verification{}, err
	}
	defer release()
	principal, err := e.store.Principal(verifier)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return Verification{}, err
	}
	if err != nil || !principal.IsVerifier {
		return Verification{}, fmt.Errorf(
			"%w: %s is not an authorized verifier",
			ledger.ErrUnauthorized,
			verifier,
		)
	}
	protocol, err := e.store.Protocol(protocolID)
	if err != nil {
		return Verification{}, err
	}
	if protocol.Author == verifier {
		return Verification{}, fmt.Errorf(
			"%w: authors cannot verify their own protocol",
			ledger.ErrUnauthorized,
		)
	}
	switch protocol.Status {
	case ledger.ProtocolStatusDraft, ledger.ProtocolStatusRejected:
		return Verification{}, fmt.Errorf(
			"%w: protocol is %s",
			ledger.ErrInvalidState,
			protocol.Status,
		)
	}
	if protocol.VerifiedBy(verifier) {
		return Verification{}, fmt.Errorf(
			"%w: %s on %s",
			ledger.ErrDuplicateAttestation,
			verifier,
			protocolID,
		)
	}
	binds := protocol.BoundTokenID == "" && protocol.VerificationCount+1 >= e.threshold
	_, err = e.store.Append(ctx, ledger.NewEvent(verifier, ledger.ProtocolAttested{
		ProtocolID: protocolID,
		Verifier:   verifier,
		Binds:      binds,
		At:         e.now(),
	}))
	if err != nil {
		return Verification{}, err
	}
	e.metrics.attestations.Inc()
	protocol, err = e.store.Protocol(protocolID)
	if err != nil {
		return Verification{}, err
	}
	ret := Verification{
		ProtocolID:        protocolID,
		Status:            protocol.Status,
		VerificationCount: protocol.VerificationCount,
	}
	if binds {
		credential, err := e.store.Credential(protocol.BoundTokenID)
		if err != nil {
			return Verification{}, err
		}
		ret.Credential = &credential
		e.metrics.bound.WithLabelValues(credential.Rarity.String()).Inc()
		e.logger.Info(
			"protocol verified, credential bound",
			"protocol", protocolID,
			"token_id", credential.TokenID,
			"rarity", credential.Rarity.String(),
		)
	}
	return ret, nil
}

// RejectProtocol rejects a pending protocol
func (e *Engine) RejectProtocol(
	ctx context.Context,
	actor common.Address,
	protocolID string,
) error {
	release, err := e.store.Lock(ctx, ledger.ProtocolRef(protocolID))
	if err != nil {
		return err
	}
	defer release()
	protocol, err := e.store.Protocol(protocolID)
	if err != nil {
		return err
	}
	if protocol.Status != ledger.ProtocolStatusPending {
		return fmt.Errorf("%w: protocol is %s, not pending", ledger.ErrInvalidState, protocol.Status)
	}
	_, err = e.store.Append(
		ctx,
		ledger.NewEvent(actor, ledger.ProtocolRejected{ProtocolID: protocolID}),
	)
	return err
}

// ConfirmIssuance records that the badge minter issued a credential.
// Confirming an issued credential again has no effect
func (e *Engine) ConfirmIssuance(ctx context.Context, tokenID string) error {
	release, err := e.store.Lock(ctx, ledger.CredentialRef(tokenID))
	if err != nil {
		return err
	}
	defer release()
	credential, err := e.store.Credential(tokenID)
	if err != nil {
		return err
	}
	if credential.Issued {
		return nil
	}
	_, err = e.store.Append(ctx, ledger.NewEvent(common.Address{}, ledger.CredentialIssued{
		TokenID:  tokenID,
		IssuedAt: e.now(),
	}))
	if err != nil {
		return err
	}
	e.metrics.issued.Inc()
	return nil
}

func (e *Engine) Credential(tokenID string) (ledger.Credential, error) {
	return e.store.Credential(tokenID)
}

// PendingCredentials returns the bound credentials whose issuance has not
// been confirmed yet
func (e *Engine) PendingCredentials() []ledger.Credential {
	return e.store.ListCredentials(func(c ledger.Credential) bool {
		return !c.Issued
	})
}
