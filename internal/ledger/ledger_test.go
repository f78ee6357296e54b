package ledger

import (
	"errors"
	"testing"
	"time"
)

func TestApplyDeltaForbidsNegativeBalance(t *testing.T) {
	l := New(100, false)

	if err := l.ApplyDelta(-150); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if l.Balance() != 100 {
		t.Errorf("balance changed on rejected delta: %v", l.Balance())
	}

	if err := l.ApplyDelta(-100); err != nil {
		t.Fatalf("delta to exactly zero should pass: %v", err)
	}
	if l.Balance() != 0 {
		t.Errorf("expected zero balance, got %v", l.Balance())
	}
}

func TestApplyDeltaAllowNegative(t *testing.T) {
	l := New(100, true)

	if err := l.ApplyDelta(-150); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Balance() != -50 {
		t.Errorf("expected -50, got %v", l.Balance())
	}
}

func TestInsertRemoveMoveToClosed(t *testing.T) {
	l := New(1000, false)

	l.Insert(Trade{ID: "t1", Pair: "BTC/USDT", Side: SideBuy, Amount: 100, Status: StatusOpen})

	got, ok := l.Get("t1")
	if !ok || got.Pair != "BTC/USDT" {
		t.Fatalf("unexpected trade: %+v ok=%v", got, ok)
	}

	removed, ok := l.Remove("t1")
	if !ok {
		t.Fatal("remove should succeed")
	}

	// Second remove must fail: the trade already left the open set.
	if _, ok := l.Remove("t1"); ok {
		t.Fatal("second remove should fail")
	}

	l.MoveToClosed(removed)
	closed := l.ClosedTrades()
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(closed))
	}
	if closed[0].Status != StatusClosed {
		t.Errorf("closed trade should have closed status, got %s", closed[0].Status)
	}
}

func TestUpdateMark(t *testing.T) {
	l := New(1000, false)
	l.Insert(Trade{ID: "t1", CurrentPrice: 50000})

	if !l.UpdateMark("t1", 55000, 10) {
		t.Fatal("update should succeed")
	}
	got, _ := l.Get("t1")
	if got.CurrentPrice != 55000 || got.Profit != 10 {
		t.Errorf("mark not applied: %+v", got)
	}

	if l.UpdateMark("missing", 1, 1) {
		t.Error("update of unknown id should fail")
	}
}

func TestOpenTradesSnapshotIsACopy(t *testing.T) {
	l := New(1000, false)
	base := time.Now()
	l.Insert(Trade{ID: "b", OpenedAt: base.Add(time.Second)})
	l.Insert(Trade{ID: "a", OpenedAt: base})

	open := l.OpenTrades()
	if len(open) != 2 {
		t.Fatalf("expected 2 open trades, got %d", len(open))
	}
	if open[0].ID != "a" || open[1].ID != "b" {
		t.Errorf("expected oldest first, got %s %s", open[0].ID, open[1].ID)
	}

	open[0].Amount = 999
	stored, _ := l.Get("a")
	if stored.Amount == 999 {
		t.Error("mutating the snapshot must not touch the store")
	}
}

func TestClearOpenAndRestore(t *testing.T) {
	l := New(1000, false)
	l.Insert(Trade{ID: "t1"})
	l.Insert(Trade{ID: "t2"})

	if n := l.ClearOpen(); n != 2 {
		t.Fatalf("expected 2 cleared, got %d", n)
	}
	if len(l.OpenTrades()) != 0 {
		t.Fatal("open set should be empty")
	}

	l.Restore(500, []Trade{{ID: "t3"}}, []Trade{{ID: "t0", Status: StatusClosed}})
	if l.Balance() != 500 {
		t.Errorf("balance not restored: %v", l.Balance())
	}
	if _, ok := l.Get("t3"); !ok {
		t.Error("open trade not restored")
	}
	if len(l.ClosedTrades()) != 1 {
		t.Error("closed history not restored")
	}
}
