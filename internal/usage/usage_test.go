package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/modelgate/modelgate/internal/translator/ir"
)

func TestCounters_Concurrent(t *testing.T) {
	c := NewCounters()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Record(g%2 == 0, 10)
			}
		}(g)
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.TotalRequests != 800 {
		t.Errorf("TotalRequests = %d", snap.TotalRequests)
	}
	if snap.SuccessCount != 400 || snap.FailureCount != 400 {
		t.Errorf("success/failure = %d/%d", snap.SuccessCount, snap.FailureCount)
	}
	if snap.TotalTokens != 8000 {
		t.Errorf("TotalTokens = %d", snap.TotalTokens)
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.Append(Record{TotalTokens: 5})
	tr.Close(context.Background())
	if snap := tr.Snapshot(); snap.TotalRequests != 0 {
		t.Errorf("nil tracker snapshot = %+v", snap)
	}
}

func TestTracker_CountsWithoutBackend(t *testing.T) {
	tr := NewTracker(nil)
	tr.Append(Record{TotalTokens: 12})
	tr.Append(Record{Failed: true})
	snap := tr.Snapshot()
	if snap.TotalRequests != 2 || snap.FailureCount != 1 || snap.TotalTokens != 12 {
		t.Errorf("snapshot = %+v", snap)
	}
	tr.Close(context.Background())
}

func TestEstimatePromptTokens(t *testing.T) {
	req := &ir.Request{
		System: "You are a helpful assistant.",
		Messages: []ir.Message{
			{Role: ir.RoleUser, Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "What is the capital of Norway?"}}},
		},
		Tools: []ir.ToolDefinition{{Name: "lookup", Description: "looks things up"}},
	}
	got := EstimatePromptTokens(req)
	if got <= 0 {
		t.Fatalf("estimate = %d, want a positive count", got)
	}
	// More content can never estimate fewer tokens.
	req.Messages = append(req.Messages, ir.Message{
		Role:    ir.RoleUser,
		Content: []ir.ContentPart{{Type: ir.ContentTypeText, Text: "And of Sweden, Denmark, Finland and Iceland?"}},
	})
	if bigger := EstimatePromptTokens(req); bigger <= got {
		t.Errorf("estimate did not grow with content: %d then %d", got, bigger)
	}

	if EstimatePromptTokens(nil) != 0 {
		t.Error("nil request estimates zero")
	}
}

func TestEstimateCompletionTokens(t *testing.T) {
	if EstimateCompletionTokens(0, 0) != 0 {
		t.Error("empty output estimates zero")
	}
	if got := EstimateCompletionTokens(400, 100); got != 126 {
		t.Errorf("estimate = %d, want chars/4+1", got)
	}
}

func TestNewBackend_DSNDispatch(t *testing.T) {
	b, err := NewBackend(BackendConfig{DSN: ""})
	if err != nil || b != nil {
		t.Errorf("empty DSN = (%v, %v), want (nil, nil)", b, err)
	}
	if _, err := NewBackend(BackendConfig{DSN: "mysql://nope"}); err == nil {
		t.Error("unknown scheme must error")
	}
}

func TestSQLiteBackend_WriteAndQuery(t *testing.T) {
	dsn := "sqlite://" + t.TempDir() + "/usage.db"
	b, err := NewBackend(BackendConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	// No Start: Flush drains the queue synchronously, which keeps the
	// test deterministic.
	defer b.Stop()

	now := time.Now()
	b.Enqueue(Record{Backend: "openai", ConnectionID: "c1", Model: "gpt-4o", RequestedAt: now, TotalTokens: 10})
	b.Enqueue(Record{Backend: "openai", ConnectionID: "c1", Model: "gpt-4o", RequestedAt: now, Failed: true})
	b.Enqueue(Record{Backend: "gemini", ConnectionID: "c2", Model: "gemini-2.5-pro", RequestedAt: now, TotalTokens: 7})
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	since := now.Add(-time.Hour)
	stats, err := b.QueryGlobalStats(context.Background(), since)
	if err != nil {
		t.Fatalf("QueryGlobalStats failed: %v", err)
	}
	if stats.TotalRequests != 3 || stats.FailureCount != 1 || stats.TotalTokens != 17 {
		t.Errorf("stats = %+v", stats)
	}

	models, err := b.QueryModelStats(context.Background(), since)
	if err != nil {
		t.Fatalf("QueryModelStats failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %+v", models)
	}

	deleted, err := b.Cleanup(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want every record older than the cutoff", deleted)
	}
}
