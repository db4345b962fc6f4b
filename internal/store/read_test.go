package store

import (
	"context"
	"testing"

	"github.com/roach88/procflow/internal/ir"
)

func TestFind_EmptyResultsAreNotNil(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	procs, err := s.FindProcessInstances(ctx)
	if err != nil {
		t.Fatalf("FindProcessInstances() failed: %v", err)
	}
	if procs == nil {
		t.Error("FindProcessInstances returned nil")
	}

	nodes, err := s.FindNodeInstances(ctx, 42)
	if err != nil {
		t.Fatalf("FindNodeInstances() failed: %v", err)
	}
	if nodes == nil {
		t.Error("FindNodeInstances returned nil")
	}

	vars, err := s.FindVariableInstancesByNameAndValue(ctx, "x", "1", true)
	if err != nil {
		t.Fatalf("FindVariableInstancesByNameAndValue() failed: %v", err)
	}
	if vars == nil {
		t.Error("FindVariableInstancesByNameAndValue returned nil")
	}
}

func TestFindProcessInstance_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.FindProcessInstance(context.Background(), 99)
	if err != nil {
		t.Fatalf("FindProcessInstance() failed: %v", err)
	}
	if found {
		t.Error("expected found=false for missing instance")
	}
}

func TestFindProcessInstances_Filters(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	p1 := activeInstance(1, "P1", at(0))
	p2 := activeInstance(2, "P1", at(1))
	p3 := activeInstance(3, "P2", at(2))
	for _, p := range []ir.ProcessInstanceLog{p1, p2, p3} {
		mustWriteInstance(t, s, p)
	}
	mustWriteInstance(t, s, completed(p1, at(3)))

	all, _ := s.FindProcessInstances(ctx)
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}

	byProcess, _ := s.FindProcessInstancesByProcessID(ctx, "P1")
	if len(byProcess) != 2 || byProcess[0].ProcessInstanceID != 1 || byProcess[1].ProcessInstanceID != 2 {
		t.Errorf("byProcess = %+v", byProcess)
	}

	active, _ := s.FindActiveProcessInstances(ctx, "P1")
	if len(active) != 1 || active[0].ProcessInstanceID != 2 {
		t.Errorf("active = %+v, want instance 2", active)
	}
}

func TestFindSubProcessInstances(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	parent := int64(1)
	mustWriteInstance(t, s, activeInstance(1, "parent", at(0)))
	for _, id := range []int64{3, 2} {
		child := activeInstance(id, "child", at(1))
		child.ParentProcessInstanceID = &parent
		mustWriteInstance(t, s, child)
	}
	mustWriteInstance(t, s, activeInstance(4, "child", at(2)))

	subs, err := s.FindSubProcessInstances(ctx, 1)
	if err != nil {
		t.Fatalf("FindSubProcessInstances() failed: %v", err)
	}
	if len(subs) != 2 || subs[0].ProcessInstanceID != 2 || subs[1].ProcessInstanceID != 3 {
		t.Errorf("subs = %+v, want [2 3]", subs)
	}
}

func TestFindNodeInstances_OrderedByDateThenID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	// Appended out of date order; two entries share a date.
	mustAppendNode(t, s, 1, "b", ir.LogEnter, at(2))
	mustAppendNode(t, s, 1, "a", ir.LogEnter, at(1))
	mustAppendNode(t, s, 1, "c", ir.LogExit, at(2))
	mustAppendNode(t, s, 2, "x", ir.LogEnter, at(0))

	nodes, err := s.FindNodeInstances(ctx, 1)
	if err != nil {
		t.Fatalf("FindNodeInstances() failed: %v", err)
	}
	var got []string
	for _, n := range nodes {
		got = append(got, n.NodeID)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
	if nodes[2].Type != ir.LogExit || nodes[2].NodeName != "node-c" {
		t.Errorf("fields not round-tripped: %+v", nodes[2])
	}

	byNode, _ := s.FindNodeInstancesByNode(ctx, 1, "b")
	if len(byNode) != 1 || byNode[0].NodeID != "b" {
		t.Errorf("byNode = %+v", byNode)
	}
}

func TestFindVariableInstances_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	mustAppendVariable(t, s, 1, "amount", "10", at(0))
	mustAppendVariable(t, s, 1, "amount", "20", at(1))
	mustAppendVariable(t, s, 1, "name", `"bob"`, at(1))

	vars, err := s.FindVariableInstancesByVariable(ctx, 1, "amount")
	if err != nil {
		t.Fatalf("FindVariableInstancesByVariable() failed: %v", err)
	}
	if len(vars) != 2 {
		t.Fatalf("got %d updates, want 2", len(vars))
	}
	if vars[0].Value != "10" || vars[1].Value != "20" {
		t.Errorf("updates not oldest first: %+v", vars)
	}
	if !vars[0].Date.Equal(at(0)) {
		t.Errorf("date = %v, want %v", vars[0].Date, at(0))
	}

	all, _ := s.FindVariableInstances(ctx, 1)
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}
}

func TestFindVariableInstancesByName_OnlyActive(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	running := activeInstance(1, "P1", at(0))
	done := activeInstance(2, "P1", at(0))
	mustWriteInstance(t, s, running)
	mustWriteInstance(t, s, completed(done, at(5)))

	mustAppendVariable(t, s, 1, "status", `"open"`, at(1))
	mustAppendVariable(t, s, 2, "status", `"open"`, at(2))
	mustAppendVariable(t, s, 2, "status", `"closed"`, at(3))

	all, _ := s.FindVariableInstancesByName(ctx, "status", false)
	if len(all) != 3 {
		t.Errorf("all = %d, want 3", len(all))
	}

	active, _ := s.FindVariableInstancesByName(ctx, "status", true)
	if len(active) != 1 || active[0].ProcessInstanceID != 1 {
		t.Errorf("active = %+v, want instance 1 only", active)
	}

	open, _ := s.FindVariableInstancesByNameAndValue(ctx, "status", `"open"`, false)
	if len(open) != 2 || open[0].ProcessInstanceID != 1 || open[1].ProcessInstanceID != 2 {
		t.Errorf("open = %+v", open)
	}

	openActive, _ := s.FindVariableInstancesByNameAndValue(ctx, "status", `"open"`, true)
	if len(openActive) != 1 || openActive[0].ProcessInstanceID != 1 {
		t.Errorf("openActive = %+v", openActive)
	}
}

func TestFindPendingCallbacks_ScopedAndUnscoped(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	register := func(instance int64, scope string, created int) {
		t.Helper()
		if _, err := s.RegisterPendingCallback(ctx, ir.PendingCallback{
			InstanceID: instance, NodeID: 5, EventRef: "paid", Scope: scope, CreatedAt: at(created),
		}); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	register(2, "order-2", 1)
	register(1, "order-1", 0)
	register(3, "", 2)

	all, _ := s.FindPendingCallbacks(ctx, ir.EventKey{Ref: "paid"})
	if len(all) != 3 {
		t.Fatalf("unscoped match = %d, want 3", len(all))
	}
	if all[0].InstanceID != 1 || all[1].InstanceID != 2 || all[2].InstanceID != 3 {
		t.Errorf("not oldest first: %+v", all)
	}

	scoped, _ := s.FindPendingCallbacks(ctx, ir.EventKey{Ref: "paid", Scope: "order-2"})
	if len(scoped) != 1 || scoped[0].InstanceID != 2 {
		t.Errorf("scoped = %+v, want instance 2", scoped)
	}

	none, _ := s.FindPendingCallbacks(ctx, ir.EventKey{Ref: "shipped"})
	if len(none) != 0 {
		t.Errorf("unknown ref matched %+v", none)
	}
}

func TestMaxProcessInstanceID(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	if got, _ := s.MaxProcessInstanceID(ctx); got != 0 {
		t.Errorf("empty store max = %d, want 0", got)
	}
	mustWriteInstance(t, s, activeInstance(5, "P1", at(0)))
	mustWriteInstance(t, s, activeInstance(3, "P1", at(0)))
	if got, _ := s.MaxProcessInstanceID(ctx); got != 5 {
		t.Errorf("max = %d, want 5", got)
	}
}
