package view

import (
	"context"
	"testing"

	"github.com/cscannon/barter/internal/chain"
	"github.com/cscannon/barter/internal/engine"
	"github.com/cscannon/barter/internal/ledger"
	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
)

// renderScenario settles the canonical serialized-token-for-native pair and
// renders the matched orders.
func renderScenario(t *testing.T, includeNested bool) []models.OrderRow {
	t.Helper()
	ctx := context.Background()

	bc, err := chain.FromName("kusama")
	if err != nil {
		t.Fatalf("failed to resolve blockchain: %v", err)
	}
	st := store.NewMemory()
	ldg := ledger.New(st.Balances())
	eng := engine.New(bc, st, ldg, nil)

	if err := ldg.Credit(ctx, "myfirstkusamaaddress", "contractSell", "00000SELL", 5); err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}
	if _, err := eng.CreateOrder(ctx, engine.OrderTerms{
		Source:        "myFirstKusamaAddress",
		SellContract:  "contractSell",
		SellSpecifier: "00000SELL",
		SellAmount:    5,
		BuyContract:   bc.NativeTicker,
		BuyAmount:     3,
		TxHash:        "txTestSell",
	}); err != nil {
		t.Fatalf("failed to create sell order: %v", err)
	}
	if _, err := eng.CreateOrder(ctx, engine.OrderTerms{
		Source:         "mySecondKusamaAddress",
		SellContract:   bc.NativeTicker,
		SellAmount:     3,
		BuyContract:    "contractSell",
		BuySpecifier:   "00000SELL",
		BuyAmount:      5,
		TxHash:         "txTestBuy",
		BuyDestination: "myFirstKusamaAddress",
	}); err != nil {
		t.Fatalf("failed to create buy order: %v", err)
	}

	if _, err := eng.MatchAll(ctx); err != nil {
		t.Fatalf("MatchAll failed: %v", err)
	}

	matches, err := eng.GetAllMatches(ctx)
	if err != nil {
		t.Fatalf("GetAllMatches failed: %v", err)
	}

	builder := NewBuilder(bc, st.Orders())
	rows, err := builder.RenderMatches(ctx, matches, includeNested)
	if err != nil {
		t.Fatalf("RenderMatches failed: %v", err)
	}
	return rows
}

func TestRenderMatches_MatchedPair(t *testing.T) {
	rows := renderScenario(t, true)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Source != "myfirstkusamaaddress" {
		t.Errorf("expected normalized first poster, got %q", first.Source)
	}
	if first.Status != "CLOSE" {
		t.Errorf("expected status CLOSE, got %q", first.Status)
	}
	if first.ContractBuy != "KSM" {
		t.Errorf("expected contract_buy KSM, got %q", first.ContractBuy)
	}
	if first.OrderType != "SELL" {
		t.Errorf("token seller must render SELL, got %q", first.OrderType)
	}

	matched := rows[1]
	if matched.Source != "mysecondkusamaaddress" {
		t.Errorf("expected normalized second poster, got %q", matched.Source)
	}
	if matched.Status != "CLOSE" {
		t.Errorf("expected status CLOSE, got %q", matched.Status)
	}
	if matched.OrderType != "BUY" {
		t.Errorf("native seller must render BUY, got %q", matched.OrderType)
	}
	if len(matched.MatchWith) != 1 {
		t.Fatalf("expected 1 match partner, got %d", len(matched.MatchWith))
	}
	partner := matched.MatchWith[0]
	if partner.TokenSell != "sn-00000SELL" {
		t.Errorf("expected serialized token rendering, got %q", partner.TokenSell)
	}
	if partner.Source != "myfirstkusamaaddress" {
		t.Errorf("expected partner source first poster, got %q", partner.Source)
	}
}

func TestRenderMatches_WithoutNesting(t *testing.T) {
	rows := renderScenario(t, false)

	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, row := range rows {
		if row.MatchWith != nil {
			t.Errorf("nested partners must be omitted, got %d", len(row.MatchWith))
		}
	}
}

func TestRenderMatches_UnmatchedOrderRendersEmpty(t *testing.T) {
	ctx := context.Background()

	bc, err := chain.FromName("kusama")
	if err != nil {
		t.Fatalf("failed to resolve blockchain: %v", err)
	}
	st := store.NewMemory()
	eng := engine.New(bc, st, ledger.New(st.Balances()), nil)

	order, err := eng.CreateOrder(ctx, engine.OrderTerms{
		Source:       "someAddress",
		SellContract: "contractSell",
		SellAmount:   1,
		BuyContract:  bc.NativeTicker,
		BuyAmount:    1,
	})
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	stored, err := st.Orders().Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}

	builder := NewBuilder(bc, st.Orders())
	rows, err := builder.RenderMatches(ctx, []*models.Order{stored}, true)
	if err != nil {
		t.Fatalf("rendering an unmatched order must not fail: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if len(rows[0].MatchWith) != 0 {
		t.Errorf("expected empty match list, got %d", len(rows[0].MatchWith))
	}
	if rows[0].Status != "" {
		t.Errorf("untouched order must render empty status, got %q", rows[0].Status)
	}
}
