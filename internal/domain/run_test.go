package domain

import (
	"encoding/json"
	"testing"
)

func TestRunLifecycle(t *testing.T) {
	r := NewRun("etl_123")
	if r.Status != RunPending {
		t.Fatalf("new run status = %s, want PENDING", r.Status)
	}

	r.MarkRunning()
	if r.Status != RunRunning || r.State != StateFetchOrders {
		t.Fatalf("after MarkRunning: status=%s state=%s", r.Status, r.State)
	}
	if r.StartedAt == nil {
		t.Fatal("StartedAt not set")
	}

	r.MarkSucceeded(map[string]any{"message": NoOrdersMessage})
	if r.Status != RunSucceeded || !r.IsFinished() {
		t.Fatalf("after MarkSucceeded: status=%s", r.Status)
	}

	// финальный статус не перетирается
	r.MarkFailed("late failure")
	if r.Status != RunSucceeded {
		t.Fatalf("terminal status overwritten: %s", r.Status)
	}
}

func TestRunMarkFailedOutput(t *testing.T) {
	r := NewRun("")
	r.MarkRunning()
	r.MarkFailed("fetch failed after 3 attempts")

	if r.Output["error"] != FailureError {
		t.Errorf("output error = %v, want %s", r.Output["error"], FailureError)
	}
	if r.Output["cause"] != FailureCause {
		t.Errorf("output cause = %v, want %q", r.Output["cause"], FailureCause)
	}
	if r.Error != "fetch failed after 3 attempts" {
		t.Errorf("diagnostic error = %q", r.Error)
	}
}

func TestRunContextMonotonic(t *testing.T) {
	r := NewRun("")
	r.SetContext(CtxExtractOrders, map[string]any{"body": "{}"})
	r.SetContext(CtxExtractOrders, map[string]any{"body": "overwrite"})

	v, ok := r.ContextValue(CtxExtractOrders)
	if !ok {
		t.Fatal("context key missing")
	}
	if v.(map[string]any)["body"] != "{}" {
		t.Errorf("context key overwritten: %v", v)
	}
}

func TestFetchResultUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantHas   bool
		wantIDs   []string
		wantError bool
	}{
		{
			name:    "object form sorted by id",
			body:    `{"bucket_name":"b","compiled_file_name":"f.json","orders":{"NYORDER2":{"title":"B"},"NYORDER1":{"title":"A"}}}`,
			wantHas: true,
			wantIDs: []string{"NYORDER1", "NYORDER2"},
		},
		{
			name:    "array form keeps order",
			body:    `{"orders":[{"order_id":"Z"},{"order_id":"A"}]}`,
			wantHas: true,
			wantIDs: []string{"Z", "A"},
		},
		{
			name:    "orders absent",
			body:    `{"bucket_name":"b","compiled_file_name":"f.json"}`,
			wantHas: false,
		},
		{
			name:    "orders empty object",
			body:    `{"orders":{}}`,
			wantHas: true,
			wantIDs: []string{},
		},
		{
			name:    "orders null treated as absent",
			body:    `{"orders":null}`,
			wantHas: false,
		},
		{
			name:      "orders scalar",
			body:      `{"orders":42}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fr FetchResult
			err := json.Unmarshal([]byte(tt.body), &fr)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if fr.HasOrders != tt.wantHas {
				t.Errorf("HasOrders = %v, want %v", fr.HasOrders, tt.wantHas)
			}
			if len(fr.Orders) != len(tt.wantIDs) {
				t.Fatalf("got %d orders, want %d", len(fr.Orders), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if fr.Orders[i].OrderID != id {
					t.Errorf("orders[%d] = %s, want %s", i, fr.Orders[i].OrderID, id)
				}
			}
		})
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    string
	}{
		{1, "2s"},
		{2, "4s"},
		{3, "8s"},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt).String(); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyMatches(t *testing.T) {
	all := DefaultRetryPolicy()
	if !all.Matches(ErrorClassParse) {
		t.Error("catch-all policy must match ParseError")
	}

	narrow := RetryPolicy{MaxAttempts: 2, On: []ErrorClass{ErrorClassTransient}}
	if !narrow.Matches(ErrorClassTransient) {
		t.Error("policy must match listed class")
	}
	if narrow.Matches(ErrorClassParse) {
		t.Error("policy must not match unlisted class")
	}
}
