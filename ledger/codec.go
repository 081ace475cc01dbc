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

package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
	"github.com/geneledger/geneledger/database"
)

var (
	payloadEncMode cbor.EncMode
	payloadDecMode cbor.DecMode
)

func init() {
	encOpts := cbor.CanonicalEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	var err error
	payloadEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: cbor encoder options: %s", err))
	}
	payloadDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: cbor decoder options: %s", err))
	}
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := payloadDecMode.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var payloadDecoders = map[EventKind]func([]byte) (Payload, error){
	KindPrincipalRegistered:      decodeAs[PrincipalRegistered],
	KindVotingPowerGranted:       decodeAs[VotingPowerGranted],
	KindReputationGranted:        decodeAs[ReputationGranted],
	KindVerifierAuthorizationSet: decodeAs[VerifierAuthorizationSet],
	KindPrincipalBootstrapped:    decodeAs[PrincipalBootstrapped],
	KindProposalCreated:          decodeAs[ProposalCreated],
	KindProposalActivated:        decodeAs[ProposalActivated],
	KindVoteCast:                 decodeAs[VoteCast],
	KindProposalFinalized:        decodeAs[ProposalFinalized],
	KindExecutionStarted:         decodeAs[ExecutionStarted],
	KindExecutionFailed:          decodeAs[ExecutionFailed],
	KindProposalExecuted:         decodeAs[ProposalExecuted],
	KindRoundOpened:              decodeAs[RoundOpened],
	KindProjectAdded:             decodeAs[ProjectAdded],
	KindContributionMade:         decodeAs[ContributionMade],
	KindRoundSettled:             decodeAs[RoundSettled],
	KindProtocolSubmitted:        decodeAs[ProtocolSubmitted],
	KindProtocolPublished:        decodeAs[ProtocolPublished],
	KindProtocolAttested:         decodeAs[ProtocolAttested],
	KindProtocolRejected:         decodeAs[ProtocolRejected],
	KindProtocolDownloaded:       decodeAs[ProtocolDownloaded],
	KindCredentialIssued:         decodeAs[CredentialIssued],
}

// EncodePayload returns the canonical CBOR encoding of a payload
func EncodePayload(p Payload) ([]byte, error) {
	return payloadEncMode.Marshal(p)
}

// DecodePayload decodes a CBOR payload of the given event kind
func DecodePayload(kind EventKind, data []byte) (Payload, error) {
	decoder, ok := payloadDecoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidArgument, kind)
	}
	p, err := decoder(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

func storedFromEvent(ev Event) (database.StoredEvent, error) {
	data, err := EncodePayload(ev.Payload)
	if err != nil {
		return database.StoredEvent{}, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
	}
	ret := database.StoredEvent{
		Seq:        ev.Seq,
		Kind:       string(ev.Kind),
		EntityKind: string(ev.Entity.Kind),
		EntityID:   ev.Entity.ID,
		RecordedAt: ev.RecordedAt,
		Payload:    data,
	}
	if ev.Actor != (common.Address{}) {
		ret.Actor = ev.Actor.Hex()
	}
	return ret, nil
}

func eventFromStored(stored database.StoredEvent) (Event, error) {
	kind := EventKind(stored.Kind)
	payload, err := DecodePayload(kind, stored.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("event %d: %w", stored.Seq, err)
	}
	ev := Event{
		Seq:  stored.Seq,
		Kind: kind,
		Entity: EntityRef{
			Kind: EntityKind(stored.EntityKind),
			ID:   stored.EntityID,
		},
		RecordedAt: stored.RecordedAt,
		Payload:    payload,
	}
	if stored.Actor != "" {
		ev.Actor = common.HexToAddress(stored.Actor)
	}
	return ev, nil
}
