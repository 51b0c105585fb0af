package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestEquivalentIgnoresBookkeeping(t *testing.T) {
	now := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	a := NewClient(now)
	a.Handle = "anna"

	b := a.Clone()
	b.Version = 7
	b.UpdatedAt = now.Add(time.Hour)

	if !Equivalent(a, b) {
		t.Fatal("expected clients to be equivalent")
	}

	b.Consultation.Attended = True
	if Equivalent(a, b) {
		t.Fatal("expected attendance change to be observable")
	}
}

func TestCloneIsDeep(t *testing.T) {
	at := time.Date(2025, 11, 20, 10, 0, 0, 0, time.UTC)
	c := NewClient(at)
	c.Consultation.BookedAt = &at
	c.Paid.CostByProvider = map[string]decimal.Decimal{"m1": decimal.NewFromInt(100)}
	c.Appointments = map[string]AppointmentKind{"1": AppointmentConsultation}

	clone := c.Clone()
	moved := at.Add(24 * time.Hour)
	*clone.Consultation.BookedAt = moved
	clone.Paid.CostByProvider["m1"] = decimal.NewFromInt(5)
	clone.Appointments["2"] = AppointmentPaid

	if !c.Consultation.BookedAt.Equal(at) {
		t.Fatal("clone shares booking time pointer")
	}
	if !c.Paid.CostByProvider["m1"].Equal(decimal.NewFromInt(100)) {
		t.Fatal("clone shares cost map")
	}
	if len(c.Appointments) != 1 {
		t.Fatal("clone shares appointment map")
	}
}

func TestTristateJSON(t *testing.T) {
	tests := []struct {
		in   Tristate
		want string
	}{
		{Unknown, "null"},
		{True, "true"},
		{False, "false"},
	}
	for _, tt := range tests {
		raw, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("marshal %v: %v", tt.in, err)
		}
		if string(raw) != tt.want {
			t.Fatalf("marshal %v = %s, want %s", tt.in, raw, tt.want)
		}
		var back Tristate
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if back != tt.in {
			t.Fatalf("round trip %v -> %v", tt.in, back)
		}
	}
}

func TestPlaceholderHandles(t *testing.T) {
	if !IsPlaceholderHandle(MissingHandle("42")) || !IsPlaceholderHandle(NoneHandle("42")) {
		t.Fatal("expected placeholders to be recognized")
	}
	if IsPlaceholderHandle("anna.hair") {
		t.Fatal("real handle reported as placeholder")
	}
	c := &Client{Handle: NoneHandle("42")}
	if !c.HasExplicitNoHandle() {
		t.Fatal("expected explicit absence")
	}
}

func TestConsultationAttemptIsDerived(t *testing.T) {
	c := &Client{}
	if c.ConsultationAttempt() != 1 {
		t.Fatalf("attempt = %d, want 1", c.ConsultationAttempt())
	}
	c.NoShowCount = 2
	if c.ConsultationAttempt() != 3 {
		t.Fatalf("attempt = %d, want 3", c.ConsultationAttempt())
	}
}

func TestNamesMatch(t *testing.T) {
	tests := []struct {
		name                    string
		storedFirst, storedLast string
		first, last             string
		want                    bool
	}{
		{"exact", "Anna", "Petrova", "Anna", "Petrova", true},
		{"case folded", "АННА", "Петрова", "анна", "петрова", true},
		{"yo folded", "Алёна", "", "Алена", "Смирнова", true},
		{"stored last empty", "Anna", "", "anna", "Ivanova", true},
		{"last differs", "Anna", "Petrova", "Anna", "Ivanova", false},
		{"first differs", "Anna", "", "Maria", "", false},
		{"stored first empty", "", "", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NamesMatch(tt.storedFirst, tt.storedLast, tt.first, tt.last)
			if got != tt.want {
				t.Fatalf("NamesMatch = %v, want %v", got, tt.want)
			}
		})
	}
}
