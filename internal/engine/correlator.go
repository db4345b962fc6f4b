package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/procflow/internal/ir"
	"github.com/roach88/procflow/internal/store"
)

// CorrelationMode decides how many waiting instances one delivery resumes.
type CorrelationMode int

const (
	// Broadcast resumes every matching waiter.
	Broadcast CorrelationMode = iota
	// Exclusive resumes only the oldest matching waiter.
	Exclusive
)

// String returns "broadcast" or "exclusive".
func (m CorrelationMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "broadcast"
}

// ParseCorrelationMode is the inverse of CorrelationMode.String. The empty
// string parses as Broadcast.
func ParseCorrelationMode(s string) (CorrelationMode, error) {
	switch strings.ToLower(s) {
	case "", "broadcast":
		return Broadcast, nil
	case "exclusive":
		return Exclusive, nil
	default:
		return Broadcast, fmt.Errorf("unknown correlation mode %q", s)
	}
}

// Correlator matches event deliveries to pending callbacks.
type Correlator struct {
	mode CorrelationMode
}

// NewCorrelator creates a Correlator.
func NewCorrelator(mode CorrelationMode) *Correlator {
	return &Correlator{mode: mode}
}

// Mode returns the correlation mode.
func (c *Correlator) Mode() CorrelationMode {
	return c.mode
}

// Register records a wait inside uow, the unit of work that suspends the
// instance.
func (c *Correlator) Register(ctx context.Context, uow *store.Store, p ir.PendingCallback) (int64, error) {
	return uow.RegisterPendingCallback(ctx, p)
}

// Match returns the candidate waiters for key, oldest first.
func (c *Correlator) Match(ctx context.Context, s *store.Store, key ir.EventKey) ([]ir.PendingCallback, error) {
	return s.FindPendingCallbacks(ctx, key)
}

// Claim removes the callback inside uow. Only one claimant wins.
func (c *Correlator) Claim(ctx context.Context, uow *store.Store, id int64) (bool, error) {
	return uow.ClaimPendingCallback(ctx, id)
}

// ResumeFunc resumes one candidate. claimed is false when the callback was
// already taken by another delivery.
type ResumeFunc func(ctx context.Context, p ir.PendingCallback) (claimed bool, err error)

// Dispatch offers candidates to resume in order and returns how many were
// claimed. In Exclusive mode it stops after the first claim; a candidate
// lost to a concurrent delivery passes the turn to the next one. Errors of
// single candidates are joined and do not stop the others.
func (c *Correlator) Dispatch(ctx context.Context, candidates []ir.PendingCallback, resume ResumeFunc) (int, error) {
	var claimed int
	var errs []error
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := resume(ctx, p)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok {
			continue
		}
		claimed++
		if c.mode == Exclusive {
			break
		}
	}
	return claimed, errors.Join(errs...)
}
