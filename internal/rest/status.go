package rest

import "context"

// MarketStatus is the current trading session state across markets.
type MarketStatus struct {
	Market     string `json:"market"` // "open", "closed", "extended-hours"
	ServerTime string `json:"serverTime"`
	EarlyHours bool   `json:"earlyHours"`
	AfterHours bool   `json:"afterHours"`

	Exchanges struct {
		Nasdaq string `json:"nasdaq"`
		NYSE   string `json:"nyse"`
		OTC    string `json:"otc"`
	} `json:"exchanges"`

	Currencies struct {
		FX     string `json:"fx"`
		Crypto string `json:"crypto"`
	} `json:"currencies"`
}

// MarketStatusNow fetches the current market session state. A 401
// response here means the API key is bad; catching that before dialing
// the stream gives a clearer failure than an auth_failed frame.
func (c *Client) MarketStatusNow(ctx context.Context) (*MarketStatus, error) {
	var status MarketStatus
	if err := c.get(ctx, "/v1/marketstatus/now", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
