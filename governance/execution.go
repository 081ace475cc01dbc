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

package governance

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/geneledger/geneledger/ledger"
)

// Executor applies the external effect of a passed proposal, such as a fund
// transfer. Execute must honor ctx cancellation
type Executor interface {
	Execute(ctx context.Context, proposal ledger.Proposal) error
}

type ExecutorFunc func(ctx context.Context, proposal ledger.Proposal) error

func (f ExecutorFunc) Execute(ctx context.Context, proposal ledger.Proposal) error {
	return f(ctx, proposal)
}

// NopExecutor confirms every execution without doing anything
type NopExecutor struct{}

func (NopExecutor) Execute(context.Context, ledger.Proposal) error {
	return nil
}

const interruptedExecution = "execution interrupted before confirmation"

// ExecuteProposal applies a passed proposal in two phases. The proposal is
// first marked executing, then the executor runs with the configured timeout,
// and finally the proposal is marked executed or returned to passed with the
// failure recorded
func (e *Engine) ExecuteProposal(
	ctx context.Context,
	actor common.Address,
	proposalID string,
) error {
	proposal, attempt, err := e.beginExecution(ctx, actor, proposalID)
	if err != nil {
		return err
	}
	defer e.clearInflight(proposalID, attempt)
	execErr := e.runExecutor(ctx, proposal)
	// The outcome must be recorded even if the caller gave up
	finishCtx := context.WithoutCancel(ctx)
	if err := e.finishExecution(finishCtx, actor, proposal, attempt, execErr); err != nil {
		return errors.Join(execErr, err)
	}
	return execErr
}

// beginExecution marks a passed proposal executing and returns it together
// with the number of the execution attempt it started
func (e *Engine) beginExecution(
	ctx context.Context,
	actor common.Address,
	proposalID string,
) (ledger.Proposal, uint32, error) {
	release, err := e.store.Lock(ctx, ledger.ProposalRef(proposalID))
	if err != nil {
		return ledger.Proposal{}, 0, err
	}
	defer release()
	proposal, err := e.store.Proposal(proposalID)
	if err != nil {
		return ledger.Proposal{}, 0, err
	}
	switch proposal.Status {
	case ledger.ProposalStatusPassed:
	case ledger.ProposalStatusExecuted:
		return ledger.Proposal{}, 0, fmt.Errorf("%w: %s", ledger.ErrAlreadyExecuted, proposalID)
	case ledger.ProposalStatusExecuting:
		return ledger.Proposal{}, 0, fmt.Errorf(
			"%w: %s is already being executed",
			ledger.ErrConflict,
			proposalID,
		)
	default:
		return ledger.Proposal{}, 0, fmt.Errorf(
			"%w: proposal is %s, not passed",
			ledger.ErrInvalidState,
			proposal.Status,
		)
	}
	_, err = e.store.Append(
		ctx,
		ledger.NewEvent(actor, ledger.ExecutionStarted{ProposalID: proposalID}),
	)
	if err != nil {
		return ledger.Proposal{}, 0, err
	}
	e.mu.Lock()
	e.inflight[proposalID] = proposal.ExecutionAttempts + 1
	e.mu.Unlock()
	return proposal, proposal.ExecutionAttempts + 1, nil
}

// clearInflight drops the in-flight mark of an attempt unless a later attempt
// has replaced it
func (e *Engine) clearInflight(proposalID string, attempt uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[proposalID] == attempt {
		delete(e.inflight, proposalID)
	}
}

func (e *Engine) runExecutor(ctx context.Context, proposal ledger.Proposal) error {
	execCtx, cancel := context.WithTimeout(ctx, e.config.ExecutionTimeout)
	defer cancel()
	resultChan := make(chan error, 1)
	go func() {
		resultChan <- e.config.Executor.Execute(execCtx, proposal)
	}()
	select {
	case err := <-resultChan:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ledger.ErrExternalEffectTimeout, err)
		}
		return fmt.Errorf("execute proposal %s: %w", proposal.ID, err)
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf(
				"%w: executor did not confirm within %s",
				ledger.ErrExternalEffectTimeout,
				e.config.ExecutionTimeout,
			)
		}
		return fmt.Errorf("execute proposal %s: %w", proposal.ID, execCtx.Err())
	}
}

// finishExecution records the outcome of an execution attempt. The outcome
// is only recorded while the proposal is still executing that attempt
func (e *Engine) finishExecution(
	ctx context.Context,
	actor common.Address,
	proposal ledger.Proposal,
	attempt uint32,
	execErr error,
) error {
	release, err := e.store.Lock(ctx, ledger.ProposalRef(proposal.ID))
	if err != nil {
		return err
	}
	defer release()
	current, err := e.store.Proposal(proposal.ID)
	if err != nil {
		return err
	}
	if current.Status != ledger.ProposalStatusExecuting ||
		current.ExecutionAttempts != attempt {
		e.logger.Error(
			"execution attempt superseded, result not recorded",
			"proposal", proposal.ID,
			"attempt", attempt,
			"status", current.Status.String(),
			"executor_error", execErr,
		)
		return fmt.Errorf(
			"%w: execution attempt %d of %s was superseded",
			ledger.ErrConflict,
			attempt,
			proposal.ID,
		)
	}
	var payload ledger.Payload
	result := "executed"
	if execErr == nil {
		payload = ledger.ProposalExecuted{
			ProposalID:       proposal.ID,
			ExecutedAt:       e.now(),
			ReputationReward: e.executionReward(current.Author),
		}
	} else {
		result = "failed"
		if errors.Is(execErr, ledger.ErrExternalEffectTimeout) {
			result = "timeout"
		}
		payload = ledger.ExecutionFailed{
			ProposalID: proposal.ID,
			Error:      execErr.Error(),
		}
	}
	if _, err := e.store.Append(ctx, ledger.NewEvent(actor, payload)); err != nil {
		e.logger.Error(
			"failed to record proposal execution result, proposal left executing",
			"proposal", proposal.ID,
			"result", result,
			"error", err,
		)
		return err
	}
	e.metrics.executions.WithLabelValues(result).Inc()
	if execErr != nil {
		e.logger.Warn(
			"proposal execution failed",
			"proposal", proposal.ID,
			"error", execErr,
		)
	} else {
		e.logger.Info(
			"proposal executed",
			"proposal", proposal.ID,
			"kind", proposal.Kind.String(),
		)
	}
	return nil
}

// RecoverExecuting returns proposals left executing by an interrupted
// process to passed, so they can be executed again. Executions in progress
// in this process are left alone
func (e *Engine) RecoverExecuting(ctx context.Context) (int, error) {
	stuck := e.store.ListProposals(func(p ledger.Proposal) bool {
		return p.Status == ledger.ProposalStatusExecuting
	})
	var errs []error
	count := 0
	for _, proposal := range stuck {
		reverted, err := e.revertExecuting(ctx, proposal)
		if err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", proposal.ID, err))
			continue
		}
		if reverted {
			count++
		}
	}
	return count, errors.Join(errs...)
}

// revertExecuting returns stuck to passed if it is still executing the same
// attempt and that attempt is not running in this process
func (e *Engine) revertExecuting(ctx context.Context, stuck ledger.Proposal) (bool, error) {
	release, err := e.store.Lock(ctx, ledger.ProposalRef(stuck.ID))
	if err != nil {
		return false, err
	}
	defer release()
	// Attempts are marked in flight under the proposal lock
	e.mu.Lock()
	_, running := e.inflight[stuck.ID]
	e.mu.Unlock()
	if running {
		return false, nil
	}
	proposal, err := e.store.Proposal(stuck.ID)
	if err != nil {
		return false, err
	}
	if proposal.Status != ledger.ProposalStatusExecuting ||
		proposal.ExecutionAttempts != stuck.ExecutionAttempts {
		return false, nil
	}
	_, err = e.store.Append(ctx, ledger.NewEvent(
		common.Address{},
		ledger.ExecutionFailed{ProposalID: stuck.ID, Error: interruptedExecution},
	))
	if err != nil {
		return false, err
	}
	e.logger.Warn("reverted interrupted proposal execution", "proposal", stuck.ID)
	return true, nil
}

// executionReward caps the configured reward so the author's reputation
// cannot overflow
func (e *Engine) executionReward(author common.Address) uint64 {
	reward := e.config.ExecutionReputationReward
	principal, err := e.store.Principal(author)
	if err != nil {
		return reward
	}
	return min(reward, math.MaxUint64-principal.Reputation)
}
