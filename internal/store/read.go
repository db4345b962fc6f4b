package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/procflow/internal/ir"
)

var processColumns = []string{
	"p.process_instance_id", "p.process_id", "p.parent_process_instance_id",
	"p.start_date", "p.end_date", "p.status",
}

var nodeColumns = []string{
	"n.id", "n.process_instance_id", "n.node_id", "n.node_name", "n.node_type", "n.type", "n.date",
}

var variableColumns = []string{
	"v.id", "v.process_instance_id", "v.variable_id", "v.value", "v.date",
}

var pendingColumns = []string{
	"c.id", "c.instance_id", "c.node_id", "c.event_ref", "c.scope", "c.created_at",
}

// FindProcessInstances returns every process instance ordered by id.
// Returns an empty slice (not nil) if none exist.
func (s *Store) FindProcessInstances(ctx context.Context) ([]ir.ProcessInstanceLog, error) {
	q := selectFrom("process_instance_log p", processColumns...).
		orderBy("p.process_instance_id ASC")
	return findAll(ctx, s, "find process instances", q, scanProcessInstance)
}

// FindProcessInstancesByProcessID returns the instances of one process.
func (s *Store) FindProcessInstancesByProcessID(ctx context.Context, processID string) ([]ir.ProcessInstanceLog, error) {
	q := selectFrom("process_instance_log p", processColumns...).
		where("p.process_id = ?", processID).
		orderBy("p.process_instance_id ASC")
	return findAll(ctx, s, "find process instances by process", q, scanProcessInstance)
}

// FindActiveProcessInstances returns the instances of one process whose
// end date is not set.
func (s *Store) FindActiveProcessInstances(ctx context.Context, processID string) ([]ir.ProcessInstanceLog, error) {
	q := selectFrom("process_instance_log p", processColumns...).
		where("p.process_id = ?", processID).
		where("p.end_date IS NULL").
		orderBy("p.process_instance_id ASC")
	return findAll(ctx, s, "find active process instances", q, scanProcessInstance)
}

// FindSubProcessInstances returns the instances started with parentID as
// their parent.
func (s *Store) FindSubProcessInstances(ctx context.Context, parentID int64) ([]ir.ProcessInstanceLog, error) {
	q := selectFrom("process_instance_log p", processColumns...).
		where("p.parent_process_instance_id = ?", parentID).
		orderBy("p.process_instance_id ASC")
	return findAll(ctx, s, "find sub-process instances", q, scanProcessInstance)
}

// FindProcessInstance looks up one instance. found is false when no
// instance has that id.
func (s *Store) FindProcessInstance(ctx context.Context, id int64) (ir.ProcessInstanceLog, bool, error) {
	q := selectFrom("process_instance_log p", processColumns...).
		where("p.process_instance_id = ?", id).
		orderBy("p.process_instance_id ASC")
	logs, err := findAll(ctx, s, "find process instance", q, scanProcessInstance)
	if err != nil || len(logs) == 0 {
		return ir.ProcessInstanceLog{}, false, err
	}
	return logs[0], true, nil
}

// FindNodeInstances returns the node log of one instance ordered by
// (date, id).
func (s *Store) FindNodeInstances(ctx context.Context, instanceID int64) ([]ir.NodeInstanceLog, error) {
	q := selectFrom("node_instance_log n", nodeColumns...).
		where("n.process_instance_id = ?", instanceID).
		orderBy("n.date ASC", "n.id ASC")
	return findAll(ctx, s, "find node instances", q, scanNodeInstance)
}

// FindNodeInstancesByNode returns the node log entries of one node.
func (s *Store) FindNodeInstancesByNode(ctx context.Context, instanceID int64, nodeID string) ([]ir.NodeInstanceLog, error) {
	q := selectFrom("node_instance_log n", nodeColumns...).
		where("n.process_instance_id = ?", instanceID).
		where("n.node_id = ?", nodeID).
		orderBy("n.date ASC", "n.id ASC")
	return findAll(ctx, s, "find node instances by node", q, scanNodeInstance)
}

// FindVariableInstances returns the variable log of one instance, oldest
// first.
func (s *Store) FindVariableInstances(ctx context.Context, instanceID int64) ([]ir.VariableInstanceLog, error) {
	q := selectFrom("variable_instance_log v", variableColumns...).
		where("v.process_instance_id = ?", instanceID).
		orderBy("v.date ASC", "v.id ASC")
	return findAll(ctx, s, "find variable instances", q, scanVariableInstance)
}

// FindVariableInstancesByVariable returns the updates of one variable of
// one instance, oldest first.
func (s *Store) FindVariableInstancesByVariable(ctx context.Context, instanceID int64, variableID string) ([]ir.VariableInstanceLog, error) {
	q := selectFrom("variable_instance_log v", variableColumns...).
		where("v.process_instance_id = ?", instanceID).
		where("v.variable_id = ?", variableID).
		orderBy("v.date ASC", "v.id ASC")
	return findAll(ctx, s, "find variable instances by variable", q, scanVariableInstance)
}

// FindVariableInstancesByName returns every update of variableID across
// instances. With onlyActive, only instances without an end date count.
func (s *Store) FindVariableInstancesByName(ctx context.Context, variableID string, onlyActive bool) ([]ir.VariableInstanceLog, error) {
	q := variablesByName(variableID, onlyActive)
	return findAll(ctx, s, "find variable instances by name", q, scanVariableInstance)
}

// FindVariableInstancesByNameAndValue is FindVariableInstancesByName
// narrowed to updates whose canonical value equals value.
func (s *Store) FindVariableInstancesByNameAndValue(ctx context.Context, variableID, value string, onlyActive bool) ([]ir.VariableInstanceLog, error) {
	q := variablesByName(variableID, onlyActive).where("v.value = ?", value)
	return findAll(ctx, s, "find variable instances by name and value", q, scanVariableInstance)
}

func variablesByName(variableID string, onlyActive bool) *selectQuery {
	q := selectFrom("variable_instance_log v", variableColumns...)
	if onlyActive {
		q.join("JOIN process_instance_log p ON p.process_instance_id = v.process_instance_id").
			where("p.end_date IS NULL")
	}
	return q.where("v.variable_id = ?", variableID).
		orderBy("v.date ASC", "v.id ASC")
}

// FindPendingCallbacks returns the callbacks waiting for key, oldest
// first. A scoped key matches only callbacks registered with that scope;
// an unscoped key matches every callback of the event reference.
func (s *Store) FindPendingCallbacks(ctx context.Context, key ir.EventKey) ([]ir.PendingCallback, error) {
	q := selectFrom("pending_callbacks c", pendingColumns...).
		where("c.event_ref = ?", key.Ref).
		whereIf(key.Scoped(), "c.scope = ?", key.Scope).
		orderBy("c.created_at ASC", "c.id ASC")
	return findAll(ctx, s, "find pending callbacks", q, scanPendingCallback)
}

// FindPendingCallbacksByInstance returns the callbacks registered by one
// instance.
func (s *Store) FindPendingCallbacksByInstance(ctx context.Context, instanceID int64) ([]ir.PendingCallback, error) {
	q := selectFrom("pending_callbacks c", pendingColumns...).
		where("c.instance_id = ?", instanceID).
		orderBy("c.created_at ASC", "c.id ASC")
	return findAll(ctx, s, "find pending callbacks by instance", q, scanPendingCallback)
}

// MaxProcessInstanceID returns the highest process instance id in the
// store, or 0 when it is empty.
func (s *Store) MaxProcessInstanceID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	err := s.run(ctx, "max process instance id", func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT MAX(process_instance_id) FROM process_instance_log`).Scan(&maxID)
	})
	if err != nil {
		return 0, err
	}
	return maxID.Int64, nil
}

// findAll runs q in a unit of work and scans every row. The result is
// never nil.
func findAll[T any](ctx context.Context, s *Store, op string, q *selectQuery, scan func(rowScanner) (T, error)) ([]T, error) {
	query, args, err := q.build()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := []T{}
	err = s.run(ctx, op, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcessInstance(row rowScanner) (ir.ProcessInstanceLog, error) {
	var (
		p      ir.ProcessInstanceLog
		parent sql.NullInt64
		start  int64
		end    sql.NullInt64
		status int
	)
	if err := row.Scan(&p.ProcessInstanceID, &p.ProcessID, &parent, &start, &end, &status); err != nil {
		return ir.ProcessInstanceLog{}, fmt.Errorf("scan process instance: %w", err)
	}
	if parent.Valid {
		id := parent.Int64
		p.ParentProcessInstanceID = &id
	}
	p.StartDate = fromNanos(start)
	if end.Valid {
		t := fromNanos(end.Int64)
		p.EndDate = &t
	}
	p.Status = ir.Status(status)
	return p, nil
}

func scanNodeInstance(row rowScanner) (ir.NodeInstanceLog, error) {
	var (
		n    ir.NodeInstanceLog
		typ  int
		date int64
	)
	if err := row.Scan(&n.ID, &n.ProcessInstanceID, &n.NodeID, &n.NodeName, &n.NodeType, &typ, &date); err != nil {
		return ir.NodeInstanceLog{}, fmt.Errorf("scan node instance: %w", err)
	}
	n.Type = ir.LogType(typ)
	n.Date = fromNanos(date)
	return n, nil
}

func scanVariableInstance(row rowScanner) (ir.VariableInstanceLog, error) {
	var (
		v    ir.VariableInstanceLog
		date int64
	)
	if err := row.Scan(&v.ID, &v.ProcessInstanceID, &v.VariableID, &v.Value, &date); err != nil {
		return ir.VariableInstanceLog{}, fmt.Errorf("scan variable instance: %w", err)
	}
	v.Date = fromNanos(date)
	return v, nil
}

func scanPendingCallback(row rowScanner) (ir.PendingCallback, error) {
	var (
		c       ir.PendingCallback
		created int64
	)
	if err := row.Scan(&c.ID, &c.InstanceID, &c.NodeID, &c.EventRef, &c.Scope, &created); err != nil {
		return ir.PendingCallback{}, fmt.Errorf("scan pending callback: %w", err)
	}
	c.CreatedAt = fromNanos(created)
	return c, nil
}
