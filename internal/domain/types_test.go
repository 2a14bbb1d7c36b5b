package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestOpenTradeOmitsExitFields(t *testing.T) {
	tr := Trade{
		ID:         "AAPL-1",
		Symbol:     "AAPL",
		Side:       SideBuy,
		Qty:        10,
		EntryTime:  time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC),
		EntryPrice: 185.5,
		Status:     TradeOpen,
	}
	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for _, field := range []string{"exitTime", "exitPrice", "exitReason"} {
		if strings.Contains(string(b), `"`+field+`"`) {
			t.Errorf("open trade serialized %s: %s", field, b)
		}
	}
	if !strings.Contains(string(b), `"status":"open"`) {
		t.Errorf("open trade missing status: %s", b)
	}
}

func TestClosedTradeRoundTrip(t *testing.T) {
	exit := time.Date(2024, 1, 10, 21, 0, 0, 0, time.UTC)
	tr := Trade{
		ID:         "AAPL-1",
		Symbol:     "AAPL",
		Side:       SideBuy,
		Qty:        10,
		EntryTime:  time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC),
		EntryPrice: 100,
		ExitTime:   &exit,
		ExitPrice:  110,
		PnL:        100,
		PnLPct:     10,
		ExitReason: ExitTakeProfit,
		Status:     TradeClosed,
	}
	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Trade
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ExitTime == nil || !got.ExitTime.Equal(exit) {
		t.Errorf("exitTime = %v, want %v", got.ExitTime, exit)
	}
	if got.ExitPrice != 110 || got.ExitReason != ExitTakeProfit || got.Status != TradeClosed {
		t.Errorf("round trip mismatch: %+v", got)
	}
}
