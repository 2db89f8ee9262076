package journey

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/voyantlabs/journey-go/journey/store"
)

func TestRecovery_AcrossEngineInstances(t *testing.T) {
	repo := store.NewMemRepository()
	ctx := context.Background()

	tc1 := newTestComponents()
	tc1.proceed("comp1", "comp3")
	tc1.onTask("gatekeeper", func(StepContext) (TaskResponse, error) {
		return TaskResponse{Type: ResponseOKPend, WorkBasket: "approvals"}, nil
	})
	e1 := newTestEngineWithRepo(t, tc1, repo)

	if _, err := e1.StartCase(ctx, "case-rec", pendJourney(), nil, nil); err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh engine over the same repository sees the pended case and can
	// finish it. The journey definition travels with the snapshot.
	tc2 := newTestComponents()
	tc2.proceed("comp1", "comp3", "gatekeeper")
	e2 := newTestEngineWithRepo(t, tc2, repo)

	state, err := e2.GetCaseState(ctx, "case-rec")
	if err != nil {
		t.Fatalf("GetCaseState failed: %v", err)
	}
	root := pathByName(t, state, RootPathName)
	if root.PendWorkBasket != "approvals" || root.Step != "gate" {
		t.Fatalf("unexpected recovered state: %+v", root)
	}

	state, err = e2.ResumeCase(ctx, "case-rec")
	if err != nil {
		t.Fatalf("ResumeCase failed: %v", err)
	}
	if !state.IsComplete {
		t.Fatal("expected completion on the second engine")
	}
	if tc2.callCount("comp1") != 0 {
		t.Error("steps before the pend must not re-run on recovery")
	}
}

func TestRecovery_EORSurvivesRestart(t *testing.T) {
	repo := store.NewMemRepository()
	ctx := context.Background()

	tc1 := newTestComponents()
	tc1.proceed("comp1")
	tc1.onTask("gatekeeper", func(StepContext) (TaskResponse, error) {
		return TaskResponse{Type: ResponseOKPendEOR, WorkBasket: "dispatch"}, nil
	})
	e1 := newTestEngineWithRepo(t, tc1, repo)
	if _, err := e1.StartCase(ctx, "case-eor-rec", pendJourney(), nil, nil); err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}
	_ = e1.Close()

	tc2 := newTestComponents()
	tc2.proceed("comp1", "comp3", "gatekeeper")
	e2 := newTestEngineWithRepo(t, tc2, repo)

	state, err := e2.ResumeCase(ctx, "case-eor-rec")
	if err != nil {
		t.Fatalf("ResumeCase failed: %v", err)
	}
	if !state.IsComplete {
		t.Fatal("expected completion")
	}
	if tc2.callCount("gatekeeper") != 0 {
		t.Error("an end-of-round pend must not re-invoke its step after restart")
	}
	if tc2.callCount("comp3") != 1 {
		t.Errorf("expected the next step to run once, got %d", tc2.callCount("comp3"))
	}
}

func TestGetCaseState(t *testing.T) {
	tc := newTestComponents()
	tc.proceed("comp1", "comp2", "comp3")
	e := newTestEngine(t, tc)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := e.GetCaseState(ctx, "missing")
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != CodeCaseNotFound {
			t.Errorf("expected CASE_NOT_FOUND, got %v", err)
		}
	})

	t.Run("completed case readable", func(t *testing.T) {
		if _, err := e.StartCase(ctx, "case-view", linearJourney(), nil, nil); err != nil {
			t.Fatalf("StartCase failed: %v", err)
		}
		state, err := e.GetCaseState(ctx, "case-view")
		if err != nil {
			t.Fatalf("GetCaseState failed: %v", err)
		}
		if !state.IsComplete {
			t.Error("expected completed snapshot")
		}
		if state.JourneyName != "linear" {
			t.Errorf("expected journey name carried, got %q", state.JourneyName)
		}
	})
}

func TestAuditLog(t *testing.T) {
	repo := store.NewMemRepository()
	tc := newTestComponents()
	tc.proceed("comp1", "comp2", "comp3")
	e := newTestEngineWithRepo(t, tc, repo, WithAuditLog(true))
	ctx := context.Background()

	if _, err := e.StartCase(ctx, "case-audit", linearJourney(), nil, nil); err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}

	docs, err := repo.GetAll(ctx, docTypeAudit)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(docs) < 3 {
		t.Fatalf("expected at least one audit document per snapshot, got %d", len(docs))
	}
	for i, kd := range docs {
		var audit auditDocument
		if err := json.Unmarshal(kd.Doc, &audit); err != nil {
			t.Fatalf("audit document %s does not decode: %v", kd.Key, err)
		}
		if audit.Seq != int64(i+1) {
			t.Errorf("audit %s: expected seq %d, got %d", kd.Key, i+1, audit.Seq)
		}
		if audit.AuditID == "" {
			t.Errorf("audit %s: missing audit id", kd.Key)
		}
		if audit.CaseID != "case-audit" {
			t.Errorf("audit %s: wrong case id %q", kd.Key, audit.CaseID)
		}
	}
	// The last audit entry is the completion snapshot.
	var last auditDocument
	if err := json.Unmarshal(docs[len(docs)-1].Doc, &last); err != nil {
		t.Fatalf("decoding last audit: %v", err)
	}
	if !last.IsComplete {
		t.Error("expected the final audit snapshot to be complete")
	}
}

func TestSnapshotPolicy_OnlyAtQuiescence(t *testing.T) {
	// With per-step snapshots off, only the initial write, pends and the
	// completion write hit the repository.
	repo := store.NewMemRepository()
	tc := newTestComponents()
	tc.proceed("comp1", "comp2", "comp3")
	e := newTestEngineWithRepo(t, tc, repo, WithSnapshotEachStep(false), WithAuditLog(true))
	ctx := context.Background()

	if _, err := e.StartCase(ctx, "case-lazy", linearJourney(), nil, nil); err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}
	docs, err := repo.GetAll(ctx, docTypeAudit)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	// Initial snapshot + completion snapshot.
	if len(docs) != 2 {
		t.Errorf("expected 2 snapshots with per-step writes off, got %d", len(docs))
	}
}

func TestPersistNode_ForcesSnapshot(t *testing.T) {
	repo := store.NewMemRepository()
	tc := newTestComponents()
	tc.proceed("comp1", "comp2")
	jny := &Journey{
		Name: "with-persist",
		Flow: []Node{
			{Type: NodeTask, Name: "step1", Component: "comp1", Next: "save"},
			{Type: NodePersist, Name: "save", Next: "step2"},
			{Type: NodeTask, Name: "step2", Component: "comp2", Next: EndStep},
		},
	}
	e := newTestEngineWithRepo(t, tc, repo, WithSnapshotEachStep(false), WithAuditLog(true))

	if _, err := e.StartCase(context.Background(), "case-persist", jny, nil, nil); err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}
	docs, err := repo.GetAll(context.Background(), docTypeAudit)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	// Initial + PERSIST node + completion.
	if len(docs) != 3 {
		t.Errorf("expected the PERSIST node to force a third snapshot, got %d", len(docs))
	}
}

func TestSnapshotRoundTrip_Variables(t *testing.T) {
	repo := store.NewMemRepository()
	ctx := context.Background()

	tc := newTestComponents()
	tc.onTask("comp1", func(sc StepContext) (TaskResponse, error) {
		sc.Variables.SetString("customer", "acme")
		sc.Variables.SetBool("priority", true)
		sc.Variables.SetInt("attempts", 3)
		return TaskResponse{Type: ResponseOKProceed}, nil
	})
	tc.onTask("gatekeeper", func(StepContext) (TaskResponse, error) {
		return TaskResponse{Type: ResponseOKPend, WorkBasket: "approvals"}, nil
	})
	tc.proceed("comp3")
	jny := pendJourney()
	jny.Variables = []Variable{{Name: "total", Type: VarLong, Value: int64(7)}}
	e := newTestEngineWithRepo(t, tc, repo)
	if _, err := e.StartCase(ctx, "case-roundtrip", jny, nil, nil); err != nil {
		t.Fatalf("StartCase failed: %v", err)
	}

	e2 := newTestEngineWithRepo(t, newTestComponents(), repo)
	state, err := e2.GetCaseState(ctx, "case-roundtrip")
	if err != nil {
		t.Fatalf("GetCaseState failed: %v", err)
	}

	got := map[string]Variable{}
	for _, v := range state.Variables {
		got[v.Name] = v
	}
	if v := got["total"]; v.Value != int64(7) {
		t.Errorf("total: expected int64 7, got %#v", v.Value)
	}
	if v := got["customer"]; v.Value != "acme" {
		t.Errorf("customer: expected acme, got %#v", v.Value)
	}
	if v := got["priority"]; v.Value != true {
		t.Errorf("priority: expected true, got %#v", v.Value)
	}
	if v := got["attempts"]; v.Value != 3 {
		t.Errorf("attempts: expected int 3, got %#v", v.Value)
	}
}
