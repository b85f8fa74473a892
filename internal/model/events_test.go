package model

import (
	"encoding/json"
	"testing"
)

func TestDecode_Trade(t *testing.T) {
	raw := json.RawMessage(`{"ev":"T","sym":"AAPL","i":"52983525029262","x":4,"p":189.32,"s":100,"c":[14,37],"t":1700000000123,"z":3}`)

	ev, err := Decode("T", raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	tr, ok := ev.(Trade)
	if !ok {
		t.Fatalf("Decode returned %T, want Trade", ev)
	}
	if tr.EventType() != EventTrade {
		t.Errorf("EventType = %q, want %q", tr.EventType(), EventTrade)
	}
	if tr.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", tr.Symbol)
	}
	if tr.TradeID != "52983525029262" {
		t.Errorf("TradeID = %q", tr.TradeID)
	}
	if tr.Price != 189.32 {
		t.Errorf("Price = %v, want 189.32", tr.Price)
	}
	if tr.Size != 100 {
		t.Errorf("Size = %v, want 100", tr.Size)
	}
	if tr.Timestamp != 1700000000123 {
		t.Errorf("Timestamp = %d, want 1700000000123", tr.Timestamp)
	}
	if len(tr.Conditions) != 2 || tr.Conditions[0] != 14 || tr.Conditions[1] != 37 {
		t.Errorf("Conditions = %v, want [14 37]", tr.Conditions)
	}
	if tr.Tape != 3 {
		t.Errorf("Tape = %d, want 3", tr.Tape)
	}
}

func TestDecode_Quote(t *testing.T) {
	raw := json.RawMessage(`{"ev":"Q","sym":"MSFT","bx":11,"bp":402.11,"bs":2,"ax":12,"ap":402.15,"as":5,"c":1,"t":1700000000456,"z":1}`)

	ev, err := Decode("Q", raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	q, ok := ev.(Quote)
	if !ok {
		t.Fatalf("Decode returned %T, want Quote", ev)
	}
	if q.Symbol != "MSFT" {
		t.Errorf("Symbol = %q, want MSFT", q.Symbol)
	}
	if q.BidPrice != 402.11 || q.AskPrice != 402.15 {
		t.Errorf("BidPrice/AskPrice = %v/%v, want 402.11/402.15", q.BidPrice, q.AskPrice)
	}
	if q.BidExchange != 11 || q.AskExchange != 12 {
		t.Errorf("BidExchange/AskExchange = %d/%d, want 11/12", q.BidExchange, q.AskExchange)
	}
}

func TestDecode_Aggregates(t *testing.T) {
	raw := json.RawMessage(`{"ev":"AM","sym":"TSLA","v":5204,"av":1203412,"op":240.1,"vw":241.2,"o":240.8,"c":241.5,"h":241.9,"l":240.6,"a":240.9,"s":1700000000000,"e":1700000060000}`)

	for _, ev := range []string{EventAggSecond, EventAggMinute} {
		decoded, err := Decode(ev, raw)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", ev, err)
		}
		agg, ok := decoded.(Aggregate)
		if !ok {
			t.Fatalf("Decode(%s) returned %T, want Aggregate", ev, decoded)
		}
		if agg.Symbol != "TSLA" {
			t.Errorf("Symbol = %q, want TSLA", agg.Symbol)
		}
		if agg.Open != 240.8 || agg.Close != 241.5 || agg.High != 241.9 || agg.Low != 240.6 {
			t.Errorf("OHLC = %v/%v/%v/%v", agg.Open, agg.Close, agg.High, agg.Low)
		}
		if agg.StartTimeMS != 1700000000000 || agg.EndTimeMS != 1700000060000 {
			t.Errorf("window = %d..%d", agg.StartTimeMS, agg.EndTimeMS)
		}
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	raw := json.RawMessage(`{"ev":"LULD","sym":"AAPL","h":190.0,"l":188.0}`)

	ev, err := Decode("LULD", raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	u, ok := ev.(Unknown)
	if !ok {
		t.Fatalf("Decode returned %T, want Unknown", ev)
	}
	if u.EventType() != "LULD" {
		t.Errorf("EventType = %q, want LULD", u.EventType())
	}
	if string(u.Raw) != string(raw) {
		t.Error("Unknown did not preserve the raw payload")
	}
}

func TestDecode_MalformedPayload(t *testing.T) {
	// Declared as a trade but the payload does not match the schema.
	raw := json.RawMessage(`{"ev":"T","sym":"AAPL","p":"not a number"}`)

	if _, err := Decode("T", raw); err == nil {
		t.Fatal("Decode accepted a payload that does not match its kind")
	}
}
