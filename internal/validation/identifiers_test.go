package validation

import (
	"testing"

	"github.com/mmrzaf/etlflow/internal/domain"
)

func TestIsValidIdentifier(t *testing.T) {
	ok := []string{"a", "A", "_a", "a1", "a_b2", "snake_case_123"}
	bad := []string{"", "1a", "a-b", "a b", "a;b", "a\"b", "a.b", "a/b", "a--", "select", "from", "order", "table", "group", "user", "returning"}

	for _, s := range ok {
		if !IsValidIdentifier(s) {
			t.Fatalf("expected valid: %q", s)
		}
	}
	for _, s := range bad {
		if IsValidIdentifier(s) {
			t.Fatalf("expected invalid: %q", s)
		}
	}
}

func TestIsValidSyncMode(t *testing.T) {
	for _, m := range []domain.SyncMode{"", "replace", "add", "remove"} {
		if !IsValidSyncMode(m) {
			t.Fatalf("expected valid sync mode %q", m)
		}
	}
	if IsValidSyncMode("merge") {
		t.Fatal("expected invalid sync mode")
	}
}

func TestValidateRunRequest(t *testing.T) {
	v := NewValidator(nil, nil)
	if err := v.ValidateRunRequest(&domain.RunRequest{}); err == nil {
		t.Fatal("expected error when neither flow_id nor flow is set")
	}
	if err := v.ValidateRunRequest(&domain.RunRequest{FlowID: "a", Flow: &domain.Flow{}}); err == nil {
		t.Fatal("expected error when both flow_id and flow are set")
	}
	zero := 0
	if err := v.ValidateRunRequest(&domain.RunRequest{FlowID: "a", ChunkSize: &zero}); err == nil {
		t.Fatal("expected chunk_size error")
	}
	if err := v.ValidateRunRequest(&domain.RunRequest{FlowID: "a", ErrorPolicy: "retry"}); err == nil {
		t.Fatal("expected error_policy error")
	}
	size := 500
	if err := v.ValidateRunRequest(&domain.RunRequest{FlowID: "a", ChunkSize: &size, ErrorPolicy: "stop"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
