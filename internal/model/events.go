package model

import "encoding/json"

// Event types emitted on the stock streams.
const (
	EventTrade     = "T"
	EventQuote     = "Q"
	EventAggSecond = "A"
	EventAggMinute = "AM"
)

// Event is one decoded stream message.
type Event interface {
	EventType() string
}

// Trade is an executed trade.
type Trade struct {
	Ev         string  `json:"ev"`
	Symbol     string  `json:"sym"`
	TradeID    string  `json:"i"`
	Exchange   int     `json:"x"`
	Price      float64 `json:"p"`
	Size       float64 `json:"s"`
	Conditions []int   `json:"c"`
	Timestamp  int64   `json:"t"` // ms since epoch
	Tape       int     `json:"z"`
}

func (t Trade) EventType() string { return t.Ev }

// Quote is a national best bid and offer update.
type Quote struct {
	Ev          string  `json:"ev"`
	Symbol      string  `json:"sym"`
	BidExchange int     `json:"bx"`
	BidPrice    float64 `json:"bp"`
	BidSize     float64 `json:"bs"`
	AskExchange int     `json:"ax"`
	AskPrice    float64 `json:"ap"`
	AskSize     float64 `json:"as"`
	Condition   int     `json:"c"`
	Timestamp   int64   `json:"t"` // ms since epoch
	Tape        int     `json:"z"`
}

func (q Quote) EventType() string { return q.Ev }

// Aggregate is a per-second ("A") or per-minute ("AM") OHLCV bar.
type Aggregate struct {
	Ev          string  `json:"ev"`
	Symbol      string  `json:"sym"`
	Volume      float64 `json:"v"`
	DayVolume   float64 `json:"av"`
	DayOpen     float64 `json:"op"`
	VWAP        float64 `json:"vw"`
	Open        float64 `json:"o"`
	Close       float64 `json:"c"`
	High        float64 `json:"h"`
	Low         float64 `json:"l"`
	DayVWAP     float64 `json:"a"`
	StartTimeMS int64   `json:"s"`
	EndTimeMS   int64   `json:"e"`
}

func (a Aggregate) EventType() string { return a.Ev }

// Unknown carries an event kind this package does not decode. Raw holds
// the message verbatim.
type Unknown struct {
	Ev  string
	Raw json.RawMessage
}

func (u Unknown) EventType() string { return u.Ev }

// Decode turns one raw data message into its typed event. Unrecognized
// event kinds come back as Unknown, never as an error; a decode error
// means the payload did not match its declared kind.
func Decode(ev string, raw json.RawMessage) (Event, error) {
	switch ev {
	case EventTrade:
		var t Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, err
		}
		return t, nil
	case EventQuote:
		var q Quote
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, err
		}
		return q, nil
	case EventAggSecond, EventAggMinute:
		var a Aggregate
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		return a, nil
	default:
		return Unknown{Ev: ev, Raw: raw}, nil
	}
}
