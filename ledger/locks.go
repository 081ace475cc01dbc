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
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const DefaultLockTimeout = 2 * time.Second

// Locks hands out per-entity write locks. Locks for unrelated entities never
// contend with each other
type Locks struct {
	mu         sync.Mutex
	sems       map[EntityRef]*semaphore.Weighted
	timeout    time.Duration
	onConflict func()
}

func NewLocks(timeout time.Duration) *Locks {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Locks{
		sems:    make(map[EntityRef]*semaphore.Weighted),
		timeout: timeout,
	}
}

func (l *Locks) sem(ref EntityRef) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[ref]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[ref] = s
	}
	return s
}

// Acquire locks every given entity, in a fixed order, waiting at most the
// configured lock timeout in total. It returns ErrConflict on timeout. The
// returned function releases all of the locks
func (l *Locks) Acquire(
	ctx context.Context,
	refs ...EntityRef,
) (func(), error) {
	keys := slices.Clone(refs)
	slices.SortFunc(keys, func(a, b EntityRef) int {
		if a.Kind != b.Kind {
			if a.Kind < b.Kind {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	keys = slices.Compact(keys)
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	held := make([]*semaphore.Weighted, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, key := range keys {
		s := l.sem(key)
		if err := s.Acquire(waitCtx, 1); err != nil {
			release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if l.onConflict != nil {
				l.onConflict()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: timed out waiting for %s", ErrConflict, key)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrConflict, key, err)
		}
		held = append(held, s)
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}
