package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/procflow/internal/ir"
)

// ErrDuplicateInstance is returned by CreateProcessInstance when the id is
// already taken.
var ErrDuplicateInstance = errors.New("process instance id already exists")

// CreateProcessInstance inserts a new process instance. Unlike
// WriteProcessInstance it never touches an existing row.
func (s *Store) CreateProcessInstance(ctx context.Context, p ir.ProcessInstanceLog) error {
	parent, end := processNullables(p)
	return s.run(ctx, "create process instance", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO process_instance_log
			(process_instance_id, process_id, parent_process_instance_id, start_date, end_date, status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(process_instance_id) DO NOTHING
		`,
			p.ProcessInstanceID,
			p.ProcessID,
			parent,
			toNanos(p.StartDate),
			end,
			int(p.Status),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("instance %d: %w", p.ProcessInstanceID, ErrDuplicateInstance)
		}
		return nil
	})
}

// WriteProcessInstance inserts a process instance or records its terminal
// state.
//
// A row whose end date is already set is never updated again, so the first
// terminal write wins and later ones are ignored. changed reports whether a
// row was inserted or updated.
func (s *Store) WriteProcessInstance(ctx context.Context, p ir.ProcessInstanceLog) (changed bool, err error) {
	parent, end := processNullables(p)
	err = s.run(ctx, "write process instance", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO process_instance_log
			(process_instance_id, process_id, parent_process_instance_id, start_date, end_date, status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(process_instance_id) DO UPDATE SET
				end_date = excluded.end_date,
				status = excluded.status
			WHERE process_instance_log.end_date IS NULL
		`,
			p.ProcessInstanceID,
			p.ProcessID,
			parent,
			toNanos(p.StartDate),
			end,
			int(p.Status),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		changed = n > 0
		return nil
	})
	return changed, err
}

// AppendNodeInstance appends a node log entry and returns its id.
func (s *Store) AppendNodeInstance(ctx context.Context, n ir.NodeInstanceLog) (int64, error) {
	var id int64
	err := s.run(ctx, "append node instance", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO node_instance_log
			(process_instance_id, node_id, node_name, node_type, type, date)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			n.ProcessInstanceID,
			n.NodeID,
			n.NodeName,
			n.NodeType,
			int(n.Type),
			toNanos(n.Date),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// AppendVariableInstance appends a variable log entry and returns its id.
// Value must already hold the canonical serialization.
func (s *Store) AppendVariableInstance(ctx context.Context, v ir.VariableInstanceLog) (int64, error) {
	var id int64
	err := s.run(ctx, "append variable instance", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO variable_instance_log
			(process_instance_id, variable_id, value, date)
			VALUES (?, ?, ?, ?)
		`,
			v.ProcessInstanceID,
			v.VariableID,
			v.Value,
			toNanos(v.Date),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RegisterPendingCallback records that an instance waits at an event node.
// Keyed by (instance, event reference, scope): registering the same key
// again moves it to the new node and keeps a single row. Returns the row id.
func (s *Store) RegisterPendingCallback(ctx context.Context, c ir.PendingCallback) (int64, error) {
	var id int64
	err := s.run(ctx, "register pending callback", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pending_callbacks
			(instance_id, node_id, event_ref, scope, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(instance_id, event_ref, scope) DO UPDATE SET
				node_id = excluded.node_id,
				created_at = excluded.created_at
		`,
			c.InstanceID,
			c.NodeID,
			c.EventRef,
			c.Scope,
			toNanos(c.CreatedAt),
		)
		if err != nil {
			return err
		}
		// LastInsertId is unreliable for the update branch of an upsert.
		return tx.QueryRowContext(ctx, `
			SELECT id FROM pending_callbacks
			WHERE instance_id = ? AND event_ref = ? AND scope = ?
		`, c.InstanceID, c.EventRef, c.Scope).Scan(&id)
	})
	return id, err
}

// ClaimPendingCallback deletes the callback with the given id. claimed is
// true only for the caller whose delete removed the row, so a callback is
// resumed at most once however many deliveries race for it.
func (s *Store) ClaimPendingCallback(ctx context.Context, id int64) (claimed bool, err error) {
	err = s.run(ctx, "claim pending callback", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM pending_callbacks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		claimed = n == 1
		return nil
	})
	return claimed, err
}

// DeletePendingCallbacks removes every callback of an instance and returns
// how many were removed.
func (s *Store) DeletePendingCallbacks(ctx context.Context, instanceID int64) (int64, error) {
	var removed int64
	err := s.run(ctx, "delete pending callbacks", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM pending_callbacks WHERE instance_id = ?`, instanceID)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// Clear deletes every process, node and variable log entry and every
// pending callback. Intended for tests and resets only.
func (s *Store) Clear(ctx context.Context) error {
	return s.run(ctx, "clear", func(tx *sql.Tx) error {
		for _, table := range []string{
			"pending_callbacks",
			"variable_instance_log",
			"node_instance_log",
			"process_instance_log",
		} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
}

func processNullables(p ir.ProcessInstanceLog) (parent, end sql.NullInt64) {
	if p.ParentProcessInstanceID != nil {
		parent = sql.NullInt64{Int64: *p.ParentProcessInstanceID, Valid: true}
	}
	if p.EndDate != nil {
		end = sql.NullInt64{Int64: toNanos(*p.EndDate), Valid: true}
	}
	return parent, end
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
