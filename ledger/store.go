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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/database"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// CommitHook is called with the events of every successful commit, after
// they have been applied to the projection
type CommitHook func([]Event)

// Store is the durable, event-sourced ledger. Events are persisted to the
// database before they are applied to the in-memory projection
type Store struct {
	db           *database.Database
	logger       *slog.Logger
	clock        clockwork.Clock
	promRegistry prometheus.Registerer
	metrics      storeMetrics
	locks        *Locks
	lockTimeout  time.Duration
	hooks        []CommitHook
	commitMu     sync.Mutex
	mu           sync.RWMutex
	state        *State
}

type StoreOptionFunc func(*Store)

func WithLogger(logger *slog.Logger) StoreOptionFunc {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithClock(clock clockwork.Clock) StoreOptionFunc {
	return func(s *Store) {
		s.clock = clock
	}
}

func WithPromRegistry(registry prometheus.Registerer) StoreOptionFunc {
	return func(s *Store) {
		s.promRegistry = registry
	}
}

func WithLockTimeout(timeout time.Duration) StoreOptionFunc {
	return func(s *Store) {
		s.lockTimeout = timeout
	}
}

func WithCommitHook(hook CommitHook) StoreOptionFunc {
	return func(s *Store) {
		s.hooks = append(s.hooks, hook)
	}
}

// NewStore creates a ledger store on top of the given database. The
// projection starts empty until Load is called
func NewStore(db *database.Database, opts ...StoreOptionFunc) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil database", ErrInvalidArgument)
	}
	s := &Store{
		db:    db,
		state: NewState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	s.logger = s.logger.With("component", "ledger")
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	// A nil registry leaves the collectors unregistered
	s.metrics.init(s.promRegistry)
	s.locks = NewLocks(s.lockTimeout)
	s.locks.onConflict = s.metrics.lockConflicts.Inc
	return s, nil
}

// Load replays the event log and installs the result as the live projection
func (s *Store) Load(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	state, err := s.Replay(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Info(
		"loaded ledger",
		"last_seq", state.LastSeq(),
	)
	return nil
}

// Replay folds every persisted event, in sequence order, into a new empty
// State. It does not touch the live projection
func (s *Store) Replay(ctx context.Context) (*State, error) {
	start := time.Now()
	state := NewState()
	iter := s.db.EventsFrom(0)
	defer iter.Close()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stored, err := iter.Next()
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		if stored == nil {
			break
		}
		ev, err := eventFromStored(*stored)
		if err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		if err := state.Apply(ev); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
	}
	s.metrics.replayDuration.Set(time.Since(start).Seconds())
	s.metrics.lastSeq.Set(float64(state.LastSeq()))
	return state, nil
}

// Rebuild replays the event log and verifies that the result matches the
// live projection. On mismatch the live projection is replaced and
// ErrProjectionMismatch is returned
func (s *Store) Rebuild(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	replayed, err := s.Replay(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if reflect.DeepEqual(replayed, s.state) {
		return nil
	}
	s.logger.Error(
		"replayed projection does not match live projection",
		"live_seq", s.state.LastSeq(),
		"replayed_seq", replayed.LastSeq(),
	)
	s.state = replayed
	return ErrProjectionMismatch
}

// Lock acquires the write locks of the given entities. See Locks.Acquire
func (s *Store) Lock(ctx context.Context, refs ...EntityRef) (func(), error) {
	return s.locks.Acquire(ctx, refs...)
}

// Append commits a single event and returns its sequence number
func (s *Store) Append(ctx context.Context, ev Event) (uint64, error) {
	seqs, err := s.Commit(ctx, ev)
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// Commit persists the events in a single database transaction and then
// applies them to the projection. Either all of the events are committed or
// none are
func (s *Store) Commit(ctx context.Context, events ...Event) ([]uint64, error) {
	committed, err := s.CommitEvents(ctx, events...)
	if err != nil {
		return nil, err
	}
	ret := make([]uint64, len(committed))
	for i, ev := range committed {
		ret[i] = ev.Seq
	}
	return ret, nil
}

// CommitEvents is like Commit, but returns the committed events with their
// sequence numbers and recorded-at times filled in
func (s *Store) CommitEvents(ctx context.Context, events ...Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Payload == nil {
			return nil, fmt.Errorf("%w: event without payload", ErrInvalidArgument)
		}
		events[i].Kind = events[i].Payload.EventKind()
		events[i].Entity = events[i].Payload.Entity()
	}
	start := time.Now()
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.RLock()
	lastSeq := s.state.LastSeq()
	err := s.state.checkBatch(events)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	stored := make([]database.StoredEvent, 0, len(events))
	committed := make([]Event, 0, len(events))
	for i, ev := range events {
		ev.Seq = lastSeq + uint64(i) + 1
		ev.RecordedAt = now
		tmpStored, err := storedFromEvent(ev)
		if err != nil {
			return nil, err
		}
		// Apply what a replay would see
		decoded, err := eventFromStored(tmpStored)
		if err != nil {
			return nil, err
		}
		stored = append(stored, tmpStored)
		committed = append(committed, decoded)
	}
	if err := s.db.AppendEvents(stored); err != nil {
		s.metrics.commitFailures.Inc()
		return nil, fmt.Errorf("persist ledger events: %w", err)
	}
	s.mu.Lock()
	for _, ev := range committed {
		if err := s.state.Apply(ev); err != nil {
			s.mu.Unlock()
			s.logger.Error(
				"failed to apply committed event",
				"seq", ev.Seq,
				"kind", ev.Kind,
				"error", err,
			)
			return nil, fmt.Errorf("apply committed event: %w", err)
		}
	}
	s.mu.Unlock()
	s.recordCommit(committed, time.Since(start))
	for _, ev := range committed {
		s.logger.Debug(
			"committed event",
			"seq", ev.Seq,
			"kind", ev.Kind,
			"entity", ev.Entity.String(),
		)
	}
	for _, hook := range s.hooks {
		hook(committed)
	}
	return committed, nil
}

func (s *Store) recordCommit(events []Event, elapsed time.Duration) {
	s.metrics.commitsTotal.Inc()
	s.metrics.commitLatency.Observe(elapsed.Seconds())
	for _, ev := range events {
		s.metrics.eventsAppended.WithLabelValues(string(ev.Kind)).Inc()
	}
	s.metrics.lastSeq.Set(float64(events[len(events)-1].Seq))
}

// History returns every event that targeted the given entity, in sequence
// order
func (s *Store) History(ref EntityRef) ([]Event, error) {
	stored, err := s.db.EventsByEntity(string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	ret := make([]Event, 0, len(stored))
	for _, tmpStored := range stored {
		ev, err := eventFromStored(tmpStored)
		if err != nil {
			return nil, err
		}
		ret = append(ret, ev)
	}
	return ret, nil
}

// Clock returns the clock used to stamp committed events
func (s *Store) Clock() clockwork.Clock {
	return s.clock
}

// View calls fn with the live projection under a read lock. fn must not
// retain or modify the State
func (s *Store) View(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

// Summary counts the entities in the live projection
func (s *Store) Summary() StateSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Summary()
}

func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastSeq()
}

func (s *Store) Principal(addr common.Address) (Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Principal(addr)
}

// Enroll returns the principal for addr. When addr is not a member yet, the
// returned principal is the one the returned events register, and the caller
// commits those events in the same batch as the operation that needs them
func (s *Store) Enroll(addr common.Address) (Principal, []Event, error) {
	if addr == (common.Address{}) {
		return Principal{}, nil, fmt.Errorf("%w: zero address", ErrInvalidArgument)
	}
	principal, err := s.Principal(addr)
	if err == nil {
		return principal, nil, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Principal{}, nil, err
	}
	joined := s.clock.Now().UTC()
	reg := NewEvent(addr, PrincipalRegistered{Address: addr, JoinedAt: joined})
	return Principal{Address: addr, JoinedAt: joined}, []Event{reg}, nil
}

func (s *Store) Proposal(id string) (Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Proposal(id)
}

func (s *Store) Vote(proposalID string, voter common.Address) (Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Vote(proposalID, voter)
}

func (s *Store) Round(id string) (FundingRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Round(id)
}

func (s *Store) Project(id string) (FundingProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Project(id)
}

func (s *Store) Contribution(id string) (Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Contribution(id)
}

func (s *Store) Settlement(roundID string) (Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settlement(roundID)
}

func (s *Store) Protocol(id string) (Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Protocol(id)
}

func (s *Store) Credential(tokenID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Credential(tokenID)
}

func (s *Store) Parameters() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Parameters()
}

func (s *Store) ListPrincipals(pred func(Principal) bool) []Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListPrincipals(pred)
}

func (s *Store) ListProposals(pred func(Proposal) bool) []Proposal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListProposals(pred)
}

func (s *Store) ListVotes(proposalID string) []Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListVotes(proposalID)
}

func (s *Store) ListRounds(pred func(FundingRound) bool) []FundingRound {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListRounds(pred)
}

func (s *Store) ListProjects(pred func(FundingProject) bool) []FundingProject {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListProjects(pred)
}

func (s *Store) ListContributions(projectID string) []Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListContributions(projectID)
}

func (s *Store) ListProtocols(pred func(Protocol) bool) []Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListProtocols(pred)
}

func (s *Store) ListCredentials(pred func(Credential) bool) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListCredentials(pred)
}

// StateSummary counts the entities in a projection
type StateSummary struct {
	LastSeq       uint64 `json:"lastSeq"`
	Principals    int    `json:"principals"`
	Proposals     int    `json:"proposals"`
	Votes         int    `json:"votes"`
	Rounds        int    `json:"rounds"`
	Projects      int    `json:"projects"`
	Contributions int    `json:"contributions"`
	Settlements   int    `json:"settlements"`
	Protocols     int    `json:"protocols"`
	Credentials   int    `json:"credentials"`
}

func (s StateSummary) String() string {
	data, _ := json.Marshal(s)
	return string(data)
}

func (s *State) Summary() StateSummary {
	votes := 0
	for _, v := range s.votes {
		votes += len(v)
	}
	return StateSummary{
		LastSeq:       s.lastSeq,
		Principals:    len(s.principals),
		Proposals:     len(s.proposals),
		Votes:         votes,
		Rounds:        len(s.rounds),
		Projects:      len(s.projects),
		Contributions: len(s.contributions),
		Settlements:   len(s.settlements),
		Protocols:     len(s.protocols),
		Credentials:   len(s.credentials),
	}
}
