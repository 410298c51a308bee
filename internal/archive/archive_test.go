package archive

import (
	"encoding/json"
	"testing"

	"github.com/politicai/orderetl/internal/domain"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s", Bucket: "b"}, false},
		{"no endpoint", Config{AccessKey: "a", SecretKey: "s", Bucket: "b"}, true},
		{"no credentials", Config{Endpoint: "localhost:9000", Bucket: "b"}, true},
		{"no bucket", Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "s"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	run := domain.NewRun("")
	want := "runs/" + run.ID.String() + ".json"
	if got := ObjectKey(run); got != want {
		t.Errorf("ObjectKey = %s, want %s", got, want)
	}
}

func TestRecordSerialization(t *testing.T) {
	run := domain.NewRun("etl_1")
	run.MarkRunning()
	run.MarkSucceeded(map[string]any{"message": domain.NoOrdersMessage})

	rec := Record{Run: run}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	runObj := decoded["run"].(map[string]any)
	if runObj["status"] != string(domain.RunSucceeded) {
		t.Errorf("archived status = %v", runObj["status"])
	}
}
