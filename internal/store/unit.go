package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// TxState is the state of a unit of work.
type TxState int

const (
	// NoTransaction: no transaction acquired yet.
	NoTransaction TxState = iota
	// Joined: running inside a transaction, either started or joined.
	Joined
	// Committed: the unit of work finished successfully.
	Committed
	// RolledBack: the unit of work was abandoned.
	RolledBack
)

// String returns the state name.
func (s TxState) String() string {
	switch s {
	case NoTransaction:
		return "no_transaction"
	case Joined:
		return "joined"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("tx_state(%d)", int(s))
	}
}

// Transaction operations reported in TransactionError.Op.
const (
	OpBegin    = "begin"
	OpCommit   = "commit"
	OpRollback = "rollback"
)

// ErrNoAmbientTransaction is returned in shared unit-of-work mode when an
// operation runs without a joined transaction.
var ErrNoAmbientTransaction = errors.New("shared unit of work requires an ambient transaction")

// ErrSharedNewTransaction is returned in shared unit-of-work mode when the
// TransactionManager starts a new transaction for an operation. Nothing
// would ever finish it, so the operation is refused.
var ErrSharedNewTransaction = errors.New("transaction manager started a new transaction in shared unit of work mode")

// ErrTxDone is returned when a finished transaction is used again.
var ErrTxDone = errors.New("transaction already finished")

// TransactionError reports a failed begin, commit or rollback.
// On a begin failure no mutation was performed. On a commit failure the
// outcome of the write is unknown and must be treated as failed.
type TransactionError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransactionError) Unwrap() error {
	return e.Err
}

// IsTransactionError reports whether err wraps a TransactionError.
func IsTransactionError(err error) bool {
	var te *TransactionError
	return errors.As(err, &te)
}

// TransactionOp returns the Op of a wrapped TransactionError, or "".
func TransactionOp(err error) string {
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Op
	}
	return ""
}

// TransactionManager hands out transactions in place of the store's own
// database handle. Begin reports newTx=false when it returns a transaction
// owned by someone else; the store then never commits or rolls it back.
type TransactionManager interface {
	Begin(ctx context.Context) (tx *sql.Tx, newTx bool, err error)
	Commit(ctx context.Context, tx *sql.Tx) error
	Rollback(ctx context.Context, tx *sql.Tx) error
}

// Config enumerates the unit-of-work options.
type Config struct {
	// SharedUnitOfWork disables the commit and close step of every
	// operation. Operations must run inside an ambient transaction (see
	// Join) or an existing one handed out by the TransactionManager with
	// newTx=false.
	SharedUnitOfWork bool

	// TransactionManager, when set, begins and ends transactions instead
	// of the store's database handle.
	TransactionManager TransactionManager
}

// Tx is an ambient transaction created by Store.Begin. Operations on a
// Store returned by Join run inside it; the creator commits or rolls back.
type Tx struct {
	tx      *sql.Tx
	newTx   bool
	manager TransactionManager

	mu    sync.Mutex
	state TxState
}

// Begin starts an ambient transaction. Called on a joined view, Begin
// returns a handle on the same transaction that does not own it.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if s.ambient != nil {
		tx, err := s.ambient.sqlTx()
		if err != nil {
			return nil, err
		}
		return &Tx{tx: tx, state: Joined}, nil
	}

	if m := s.cfg.TransactionManager; m != nil {
		tx, newTx, err := m.Begin(ctx)
		if err != nil {
			return nil, &TransactionError{Op: OpBegin, Err: err}
		}
		return &Tx{tx: tx, newTx: newTx, manager: m, state: Joined}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &TransactionError{Op: OpBegin, Err: err}
	}
	return &Tx{tx: tx, newTx: true, state: Joined}, nil
}

// Join returns a view of s whose operations run inside t.
func (s *Store) Join(t *Tx) *Store {
	view := *s
	view.ambient = t
	return &view
}

// Commit commits the transaction if this handle owns it. A second Commit
// fails with ErrTxDone.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Joined {
		return &TransactionError{Op: OpCommit, Err: ErrTxDone}
	}
	if t.newTx {
		var err error
		if t.manager != nil {
			err = t.manager.Commit(ctx, t.tx)
		} else {
			err = t.tx.Commit()
		}
		if err != nil {
			t.state = RolledBack
			return &TransactionError{Op: OpCommit, Err: err}
		}
	}
	t.state = Committed
	return nil
}

// Rollback abandons the transaction if this handle owns it. Rolling back a
// finished transaction is a no-op, so Rollback is safe to defer.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Joined {
		return nil
	}
	t.state = RolledBack
	if !t.newTx {
		return nil
	}
	var err error
	if t.manager != nil {
		err = t.manager.Rollback(ctx, t.tx)
	} else {
		err = t.tx.Rollback()
	}
	if err != nil {
		return &TransactionError{Op: OpRollback, Err: err}
	}
	return nil
}

// State returns the current transaction state.
func (t *Tx) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tx) sqlTx() (*sql.Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Joined {
		return nil, &TransactionError{Op: OpBegin, Err: ErrTxDone}
	}
	return t.tx, nil
}

// unit is one operation's unit of work.
type unit struct {
	tx    *sql.Tx
	newTx bool
	// managed is false when the coordinator must leave commit and
	// rollback to the caller.
	managed bool
	manager TransactionManager
	state   TxState
}

// acquire joins the ambient transaction, asks the TransactionManager for
// one, or starts a local transaction, in that order.
func (s *Store) acquire(ctx context.Context) (*unit, error) {
	u := &unit{state: NoTransaction}

	switch {
	case s.ambient != nil:
		tx, err := s.ambient.sqlTx()
		if err != nil {
			return nil, err
		}
		u.tx = tx

	case s.cfg.TransactionManager != nil:
		m := s.cfg.TransactionManager
		tx, newTx, err := m.Begin(ctx)
		if err != nil {
			return nil, &TransactionError{Op: OpBegin, Err: err}
		}
		if newTx && s.cfg.SharedUnitOfWork {
			err := error(ErrSharedNewTransaction)
			if rbErr := m.Rollback(ctx, tx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return nil, &TransactionError{Op: OpBegin, Err: err}
		}
		u.tx, u.newTx, u.manager = tx, newTx, m

	case s.cfg.SharedUnitOfWork:
		return nil, &TransactionError{Op: OpBegin, Err: ErrNoAmbientTransaction}

	default:
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, &TransactionError{Op: OpBegin, Err: err}
		}
		u.tx, u.newTx = tx, true
	}

	u.managed = u.newTx && !s.cfg.SharedUnitOfWork
	u.state = Joined
	return u, nil
}

func (u *unit) commit(ctx context.Context) error {
	if u.state != Joined {
		return &TransactionError{Op: OpCommit, Err: ErrTxDone}
	}
	if u.managed {
		var err error
		if u.manager != nil {
			err = u.manager.Commit(ctx, u.tx)
		} else {
			err = u.tx.Commit()
		}
		if err != nil {
			u.state = RolledBack
			return &TransactionError{Op: OpCommit, Err: err}
		}
	}
	u.state = Committed
	return nil
}

func (u *unit) rollback(ctx context.Context) error {
	if u.state != Joined {
		return nil
	}
	u.state = RolledBack
	if !u.managed {
		return nil
	}
	var err error
	if u.manager != nil {
		err = u.manager.Rollback(ctx, u.tx)
	} else {
		err = u.tx.Rollback()
	}
	if err != nil {
		return &TransactionError{Op: OpRollback, Err: err}
	}
	return nil
}

// run executes fn in a unit of work and finishes it exactly once.
func (s *Store) run(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	_, err := s.runUnit(ctx, op, fn)
	return err
}

// runUnit is run that also returns the finished unit, for tests.
func (s *Store) runUnit(ctx context.Context, op string, fn func(tx *sql.Tx) error) (*unit, error) {
	u, err := s.acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := fn(u.tx); err != nil {
		if rbErr := u.rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", "op", op, "error", rbErr)
		}
		return u, fmt.Errorf("%s: %w", op, err)
	}

	if err := u.commit(ctx); err != nil {
		return u, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
