package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vietddude/relink/internal/core/domain"
)

// === catalog ===

func TestRegistry_AddDuplicate(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, testStrategy("s"))

	err := reg.Add(testStrategy("s"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("duplicate Add err = %v, want ErrConfiguration", err)
	}
}

func TestRegistry_AddInvalid(t *testing.T) {
	reg := NewRegistry(nil)

	bad := testStrategy("bad")
	bad.Actions = nil
	if err := reg.Add(bad); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("invalid Add err = %v, want ErrConfiguration", err)
	}
}

func TestRegistry_UpdateAndRemove(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, testStrategy("s"))

	upd := testStrategy("s")
	upd.MaxAttempts = 5
	if err := reg.Update(upd); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := reg.Get("s")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MaxAttempts != 5 {
		t.Errorf("MaxAttempts after update = %d, want 5", got.MaxAttempts)
	}

	if err := reg.Remove("s"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.Get("s"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Get after remove err = %v, want ErrConfiguration", err)
	}
	if err := reg.Remove("s"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("second Remove err = %v, want ErrConfiguration", err)
	}
}

func TestRegistry_ListPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry(nil)
	ids := []string{"zeta", "alpha", "mid"}
	for _, id := range ids {
		mustAdd(t, reg, testStrategy(id))
	}

	list := reg.List()
	if len(list) != len(ids) {
		t.Fatalf("List returned %d strategies, want %d", len(list), len(ids))
	}
	for i, id := range ids {
		if list[i].ID != id {
			t.Errorf("List[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
}

// === outcome EMA ===

func TestRecordOutcome_EMA(t *testing.T) {
	reg := NewRegistry(nil)
	st := testStrategy("s")
	st.SuccessRate = 0.5
	st.AvgRecoveryTime = 10000
	mustAdd(t, reg, st)

	reg.RecordOutcome("s", true, 20*time.Second)

	got, _ := reg.Get("s")
	// rate = 0.5×0.9 + 1×0.1, avg = 10000×0.9 + 20000×0.1
	if math.Abs(got.SuccessRate-0.55) > 1e-9 {
		t.Errorf("SuccessRate = %v, want 0.55", got.SuccessRate)
	}
	if math.Abs(got.AvgRecoveryTime-11000) > 1e-9 {
		t.Errorf("AvgRecoveryTime = %v, want 11000", got.AvgRecoveryTime)
	}

	reg.RecordOutcome("s", false, 20*time.Second)
	got, _ = reg.Get("s")
	if math.Abs(got.SuccessRate-0.495) > 1e-9 {
		t.Errorf("SuccessRate after failure = %v, want 0.495", got.SuccessRate)
	}
}

func TestRecordOutcome_RateStaysBelowOne(t *testing.T) {
	reg := NewRegistry(nil)
	mustAdd(t, reg, testStrategy("s"))

	prev := 0.0
	for i := 0; i < 200; i++ {
		reg.RecordOutcome("s", true, time.Second)
		got, _ := reg.Get("s")
		if got.SuccessRate <= prev {
			t.Fatalf("SuccessRate stopped increasing at iteration %d: %v", i, got.SuccessRate)
		}
		if got.SuccessRate >= 1 {
			t.Fatalf("SuccessRate reached %v at iteration %d, must stay below 1", got.SuccessRate, i)
		}
		prev = got.SuccessRate
	}
}

func TestRecordOutcome_UnknownIDIsNoop(t *testing.T) {
	reg := NewRegistry(nil)
	// Must not panic or create a phantom entry.
	reg.RecordOutcome("ghost", true, time.Second)
	if _, err := reg.Get("ghost"); err == nil {
		t.Fatal("phantom strategy created by RecordOutcome")
	}
}
