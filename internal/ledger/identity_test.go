package ledger

import "testing"

func TestIdentityIsDeterministic(t *testing.T) {
	row := Row{Primary: "1.1.2025", Description: "Nájem", Amount: 10000}
	if Identity(row) != Identity(row) {
		t.Fatalf("expected identical rows to share an identity")
	}
	if len(Identity(row)) != 64 {
		t.Fatalf("expected hex sha256 identity, got %q", Identity(row))
	}
}

func TestIdentityChangesWithAnyField(t *testing.T) {
	base := Row{Primary: "1.1.2025", Description: "Nájem", Amount: 10000}
	variants := []Row{
		{Primary: "2.1.2025", Description: "Nájem", Amount: 10000},
		{Primary: "1.1.2025", Description: "Nájem ", Amount: 10000},
		{Primary: "1.1.2025", Description: "Nájem", Amount: 10000.5},
	}
	for _, v := range variants {
		if Identity(v) == Identity(base) {
			t.Fatalf("expected %+v to have a different identity than %+v", v, base)
		}
	}
}

func TestIdentityIsFieldOrderSensitive(t *testing.T) {
	a := Row{Primary: "x", Description: "y"}
	b := Row{Primary: "y", Description: "x"}
	if Identity(a) == Identity(b) {
		t.Fatalf("expected swapped fields to produce different identities")
	}
}
