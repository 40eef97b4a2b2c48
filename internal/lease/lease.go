// Copyright (c) 2026 John Earle
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

// Package lease provides per-email processing leases backed by Redis.
// A lease keeps two pipeline instances from working on the same email at
// the same time, on top of the atomic backlog claim in Postgres; it covers
// the single-email entry point, which bypasses the claim.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed worker can hold an email.
	DefaultTTL = 5 * time.Minute

	// keyPrefix namespaces lease keys in Redis.
	keyPrefix = "mailrouter:lease:email:"
)

// ErrHeld is returned when another worker holds the lease.
var ErrHeld = errors.New("lease held by another worker")

// releaseScript deletes the key only while it still carries our token, so
// an expired lease re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client is the subset of the Redis client the locker needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Locker acquires email leases.
type Locker struct {
	rdb Client
	ttl time.Duration
}

// NewLocker creates a lease locker. A non-positive ttl uses DefaultTTL.
func NewLocker(rdb Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{rdb: rdb, ttl: ttl}
}

// Lease is a held email lease.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lease for emailID. It returns ErrHeld if another
// worker holds it.
func (l *Locker) Acquire(ctx context.Context, emailID int64) (*Lease, error) {
	key := fmt.Sprintf("%s%d", keyPrefix, emailID)
	token := uuid.New().String()

	// SET NX = set only if key does not exist. Returns true if the key was set.
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease SETNX: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

// Release gives the lease back. Releasing an expired lease is a no-op.
func (le *Lease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, le.locker.rdb, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}
