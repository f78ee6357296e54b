// Package seed populates the persistence store with a demo account and a
// fabricated movement history. It is a data-seeding concern only: nothing in
// the engine knows or cares whether a seed ran.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"tradesim/pkg/storage"
)

// Account is the seeded demo identity.
type Account struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Balance         float64   `json:"balance"`
	PracticeBalance float64   `json:"practice_balance"`
	CreatedAt       time.Time `json:"created_at"`
}

// Movement is one fabricated history entry.
type Movement struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"` // "trade", "plan" or "bot"
	Asset       string    `json:"asset"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
}

// Seeder writes demo fixtures through the snapshot store.
type Seeder struct {
	store storage.Store
	rng   *rand.Rand
	now   func() time.Time
}

func New(store storage.Store) *Seeder {
	return &Seeder{
		store: store,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		now:   time.Now,
	}
}

// Seed writes the demo account and a 30-entry movement history spread over
// the past 90 days, newest first. Existing records for the account are
// overwritten.
func (s *Seeder) Seed(ctx context.Context, account Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = s.now()
	}

	raw, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := s.store.Save(ctx, accountKey(account.ID), raw); err != nil {
		return fmt.Errorf("save account: %w", err)
	}

	history := s.generateHistory(30, 90)
	raw, err = json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := s.store.Save(ctx, historyKey(account.ID), raw); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	return nil
}

// History loads the seeded movement history for an account.
func (s *Seeder) History(ctx context.Context, accountID string) ([]Movement, error) {
	raw, err := s.store.Load(ctx, historyKey(accountID))
	if err != nil {
		return nil, err
	}

	var history []Movement
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return history, nil
}

func (s *Seeder) generateHistory(entries, spanDays int) []Movement {
	types := []string{"trade", "plan", "bot"}
	assets := []string{"BTC", "ETH", "USDC"}

	now := s.now()
	out := make([]Movement, 0, entries)
	for i := 0; i < entries; i++ {
		typ := types[s.rng.Intn(len(types))]
		asset := assets[s.rng.Intn(len(assets))]
		date := now.AddDate(0, 0, -s.rng.Intn(spanDays))

		var description string
		switch typ {
		case "trade":
			description = fmt.Sprintf("Trade executed with %s", asset)
		case "plan":
			description = fmt.Sprintf("Investment plan in %s", asset)
		default:
			description = fmt.Sprintf("Automated bot with %s", asset)
		}

		out = append(out, Movement{
			ID:          fmt.Sprintf("%s-%d", typ, i),
			Type:        typ,
			Asset:       asset,
			Amount:      20 + s.rng.Float64()*500,
			Date:        date,
			Status:      "completed",
			Description: description,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func accountKey(id string) string { return "seed/" + id + "/account" }
func historyKey(id string) string { return "seed/" + id + "/history" }
