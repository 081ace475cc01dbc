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
	"errors"
	"fmt"
)

var (
	ErrInvalidState          = errors.New("invalid state")
	ErrDuplicateVote         = errors.New("duplicate vote")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrConflict              = errors.New("conflict")
	ErrAlreadyExecuted       = errors.New("proposal already executed")
	ErrExternalEffectTimeout = errors.New("external effect timed out")
	ErrNotFound              = errors.New("not found")
	ErrInvalidArgument       = errors.New("invalid argument")

	ErrRoundEnded           = fmt.Errorf("%w: funding round ended", ErrInvalidState)
	ErrDuplicateAttestation = fmt.Errorf("%w: verifier already attested", ErrDuplicateVote)

	ErrProjectionMismatch = errors.New("replayed projection differs from live projection")
)
