package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pravindurgani/agent-sutra/gateway"
	"github.com/pravindurgani/agent-sutra/store"
)

func TestDeliverStripsArtifactsOnFailedVerdict(t *testing.T) {
	outputs := t.TempDir()
	artifact := filepath.Join(outputs, "result.csv")
	if err := os.WriteFile(artifact, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	gw := newFakeGateway()
	gw.on(gateway.PurposeGeneral, "The task did not succeed.")
	nodes := testNodes(gw, nil, nil, nil, outputs)

	state := &State{
		TaskID:        "t1",
		TaskType:      "data",
		Message:       "analyse",
		AuditVerdict:  VerdictFail,
		AuditFeedback: "assertions failed",
		RetryCount:    3,
		Artifacts:     []string{artifact},
	}
	if err := nodes.Deliver(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if len(state.Artifacts) != 0 {
		t.Errorf("failed task delivered artifacts: %v", state.Artifacts)
	}
}

func TestDeliverEmptyVerdictTreatedAsFail(t *testing.T) {
	gw := newFakeGateway()
	gw.on(gateway.PurposeGeneral, "summary")
	outputs := t.TempDir()
	nodes := testNodes(gw, nil, nil, nil, outputs)

	artifact := filepath.Join(outputs, "x.txt")
	_ = os.WriteFile(artifact, []byte("x"), 0o644)

	state := &State{TaskID: "t2", TaskType: "code", Message: "m", Artifacts: []string{artifact}}
	if err := nodes.Deliver(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if len(state.Artifacts) != 0 {
		t.Errorf("verdict never set: artifacts must be stripped, got %v", state.Artifacts)
	}
}

func TestDeliverFallbackNeverClaimsSuccess(t *testing.T) {
	gw := newFakeGateway()
	gw.err = errors.New("summary model unavailable")
	nodes := testNodes(gw, nil, nil, nil, t.TempDir())

	state := &State{
		TaskID:        "t3",
		TaskType:      "code",
		Message:       "m",
		AuditVerdict:  VerdictFail,
		AuditFeedback: "the assertion on line 3 fails",
		RetryCount:    3,
	}
	if err := nodes.Deliver(context.Background(), state); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(state.FinalResponse, "FAILED") {
		t.Errorf("fallback response must state failure, got %q", state.FinalResponse)
	}
	if !strings.Contains(state.FinalResponse, "assertion on line 3") {
		t.Errorf("fallback response should carry the auditor feedback, got %q", state.FinalResponse)
	}
	if strings.Contains(strings.ToLower(state.FinalResponse), "completed successfully") {
		t.Errorf("fallback must never claim success on a failed verdict")
	}
}

func TestDeliverWritesSanitisedSidecar(t *testing.T) {
	outputs := t.TempDir()
	gw := newFakeGateway()
	gw.on(gateway.PurposeGeneral, "All good.")
	nodes := testNodes(gw, nil, nil, nil, outputs)
	nodes.Opts.HostHome = "/home/op"

	state := &State{
		TaskID:       "aaaabbbb-cccc-dddd-eeee-ffff00001111",
		TaskType:     "code",
		Message:      "process /home/op/Documents/secret-client/report.xlsx please",
		AuditVerdict: VerdictPass,
		RetryCount:   1,
		StageTimings: []StageTiming{
			{Name: StageClassifying, DurationMs: 12},
			{Name: StagePlanning, DurationMs: 340},
		},
	}
	if err := nodes.Deliver(context.Background(), state); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(filepath.Join(outputs, state.TaskID+".debug.json"))
	if err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
	var sidecar Sidecar
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(sidecar.Message, "/home/op") {
		t.Errorf("sidecar message must strip the home prefix: %q", sidecar.Message)
	}
	if !strings.Contains(sidecar.Message, "~/Documents/secret-client") {
		t.Errorf("sidecar message should keep the relative path: %q", sidecar.Message)
	}
	if sidecar.Verdict != VerdictPass || sidecar.RetryCount != 1 {
		t.Errorf("sidecar = %+v", sidecar)
	}
	if sidecar.TotalDurationMs != 352 {
		t.Errorf("total duration = %d, want sum of stages", sidecar.TotalDurationMs)
	}
}

func TestReadSidecarRequiresPrefixLength(t *testing.T) {
	if _, err := ReadSidecar(t.TempDir(), "short"); err == nil {
		t.Error("prefixes under 8 chars must be rejected")
	}
	if _, err := ReadSidecar(t.TempDir(), "aaaabbbbcccc"); err == nil {
		t.Error("missing sidecar must be an error")
	}
}

func TestFollowUpSuggestionMining(t *testing.T) {
	now := time.Now()
	memory := &fakeMemory{history: []store.TaskTypeAt{
		// Newest first: two recent data→ui_design sequences.
		{TaskType: "ui_design", CreatedAt: now},
		{TaskType: "data", CreatedAt: now.Add(-5 * time.Minute)},
		{TaskType: "ui_design", CreatedAt: now.Add(-20 * time.Minute)},
		{TaskType: "data", CreatedAt: now.Add(-25 * time.Minute)},
	}}
	gw := newFakeGateway()
	nodes := testNodes(gw, nil, memory, nil, t.TempDir())

	state := &State{TaskID: "t5", UserID: 1, TaskType: "data"}
	suggestion := nodes.followUpSuggestion(context.Background(), state)
	if !strings.Contains(suggestion, "ui_design") {
		t.Errorf("suggestion = %q, want the mined follow-up type", suggestion)
	}

	// A single occurrence is not a pattern.
	memory.history = memory.history[:2]
	if got := nodes.followUpSuggestion(context.Background(), state); got != "" {
		t.Errorf("one occurrence should not trigger a suggestion, got %q", got)
	}
}
