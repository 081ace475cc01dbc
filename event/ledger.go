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

package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/ledger"
)

const (
	// CredentialRequestedEventType asks the badge minter to issue a credential
	CredentialRequestedEventType EventType = "credential.requested"

	ledgerEventTypePrefix = "ledger."
)

// LedgerEventType returns the event type used to publish committed ledger
// events of the given kind
func LedgerEventType(kind ledger.EventKind) EventType {
	return EventType(ledgerEventTypePrefix + string(kind))
}

// CredentialRequestedEvent is published when a protocol is verified and a
// credential is bound to it, and again for every redelivery until the
// issuance is confirmed
type CredentialRequestedEvent struct {
	TokenID    string
	ProtocolID string
	Owner      common.Address
	Rarity     ledger.Rarity
	Redelivery bool
}

// LedgerCommitHook returns a ledger commit hook that publishes every
// committed event asynchronously. The event data is the ledger.Event, whose
// Seq gives the commit order
func LedgerCommitHook(bus *EventBus) ledger.CommitHook {
	return func(events []ledger.Event) {
		for _, ev := range events {
			evtType := LedgerEventType(ev.Kind)
			bus.PublishAsync(evtType, NewEvent(evtType, ev))
		}
	}
}
