package tenancy

import "testing"

func TestValidateID(t *testing.T) {
	valid := []string{"channel-a", "science-shorts", "c3"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v", id, err)
		}
	}

	invalid := []string{"", "Channel-A", "shared-pool", "-leading", "has space"}
	for _, id := range invalid {
		if err := ValidateID(id); err == nil {
			t.Errorf("ValidateID(%q) should fail", id)
		}
	}
}

func TestPolicyAccepts(t *testing.T) {
	own := NewPolicy("channel-a")
	if !own.Accepts("channel-a") {
		t.Error("policy must accept its own tenant")
	}
	if own.Accepts("channel-b") {
		t.Error("policy must reject other tenants")
	}

	shared := NewPolicy(SharedPool)
	if !shared.Shared() {
		t.Error("expected shared policy")
	}
	if !shared.Accepts("channel-a") || !shared.Accepts("channel-b") {
		t.Error("shared pool must accept every tenant")
	}
}
