package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/procflow/internal/ir"
)

// createTestStore opens a fresh store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var baseTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// at returns baseTime shifted by n seconds.
func at(n int) time.Time {
	return baseTime.Add(time.Duration(n) * time.Second)
}

func activeInstance(id int64, processID string, start time.Time) ir.ProcessInstanceLog {
	return ir.ProcessInstanceLog{
		ProcessInstanceID: id,
		ProcessID:         processID,
		StartDate:         start,
		Status:            ir.StatusActive,
	}
}

func completed(p ir.ProcessInstanceLog, end time.Time) ir.ProcessInstanceLog {
	p.EndDate = &end
	p.Status = ir.StatusCompleted
	return p
}

func mustWriteInstance(t *testing.T, s *Store, p ir.ProcessInstanceLog) {
	t.Helper()
	if _, err := s.WriteProcessInstance(context.Background(), p); err != nil {
		t.Fatalf("WriteProcessInstance(%d) failed: %v", p.ProcessInstanceID, err)
	}
}

func mustAppendVariable(t *testing.T, s *Store, instanceID int64, variableID, value string, date time.Time) {
	t.Helper()
	_, err := s.AppendVariableInstance(context.Background(), ir.VariableInstanceLog{
		ProcessInstanceID: instanceID,
		VariableID:        variableID,
		Value:             value,
		Date:              date,
	})
	if err != nil {
		t.Fatalf("AppendVariableInstance() failed: %v", err)
	}
}

func mustAppendNode(t *testing.T, s *Store, instanceID int64, nodeID string, typ ir.LogType, date time.Time) {
	t.Helper()
	_, err := s.AppendNodeInstance(context.Background(), ir.NodeInstanceLog{
		ProcessInstanceID: instanceID,
		NodeID:            nodeID,
		NodeName:          "node-" + nodeID,
		NodeType:          "action",
		Type:              typ,
		Date:              date,
	})
	if err != nil {
		t.Fatalf("AppendNodeInstance() failed: %v", err)
	}
}
