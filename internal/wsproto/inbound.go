// Package wsproto defines the gateway's WebSocket wire protocol: a
// tagged variant by "action" for client→server messages, and a tagged
// variant by "type" for server→client messages (spec.md §9 — variant
// messages over inheritance).
package wsproto

import (
	"encoding/json"
	"strings"
)

// UserScanPrefix marks a list name as owned by one user (spec.md §4.11).
const UserScanPrefix = "uscan_"

// ScanIDFromList extracts the scan ID from a uscan_-prefixed list name.
func ScanIDFromList(list string) (string, bool) {
	if !strings.HasPrefix(list, UserScanPrefix) {
		return "", false
	}
	return strings.TrimPrefix(list, UserScanPrefix), true
}

// Inbound action tags, per spec.md §4.12.
const (
	ActionSubscribeList       = "subscribe_list"
	ActionUnsubscribeList     = "unsubscribe_list"
	ActionResync              = "resync"
	ActionSubscribeQuote      = "subscribe_quote"
	ActionSubscribeQuotes     = "subscribe_quotes"
	ActionUnsubscribeQuote    = "unsubscribe_quote"
	ActionUnsubscribeQuotes   = "unsubscribe_quotes"
	ActionSubscribeChart      = "subscribe_chart"
	ActionUnsubscribeChart    = "unsubscribe_chart"
	ActionSubscribeSecFilings = "subscribe_sec_filings"
	ActionUnsubSecFilings     = "unsubscribe_sec_filings"
	ActionSubscribeNews       = "subscribe_news"
	ActionSubscribeNewsLegacy = "subscribe_benzinga_news" // legacy alias, kept per spec.md §4.12
	ActionUnsubscribeNews     = "unsubscribe_news"
	ActionPing                = "ping"
	ActionPong                = "pong" // received but ignored
	ActionRefreshToken        = "refresh_token"
)

// Envelope is the minimal shape every inbound message must parse as: a
// tag plus the rest of the raw fields, decoded a second time into the
// action-specific type once the tag is known. Unknown extra fields are
// tolerated by design (spec.md §4.12: "all tolerate unknown fields").
type Envelope struct {
	Action string          `json:"action"`
	Raw    json.RawMessage `json:"-"`
}

// UnmarshalJSON captures both the action tag and the raw bytes so the
// dispatcher can re-decode into a concrete payload type.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var tag struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	e.Action = tag.Action
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// SubscribeListMsg: {action: "subscribe_list", list}
type SubscribeListMsg struct {
	List string `json:"list"`
}

// UnsubscribeListMsg: {action: "unsubscribe_list", list}
type UnsubscribeListMsg struct {
	List string `json:"list"`
}

// ResyncMsg: {action: "resync", list}
type ResyncMsg struct {
	List string `json:"list"`
}

// SubscribeQuoteMsg: {action: "subscribe_quote", symbol} or
// {action: "subscribe_quotes", symbols}. All merges both shapes into
// one symbol list.
type SubscribeQuoteMsg struct {
	Symbol  string   `json:"symbol"`
	Symbols []string `json:"symbols"`
}

// All returns the normalized, deduplicated symbol list regardless of
// which of the singular/plural inbound shapes was used.
func (m SubscribeQuoteMsg) All() []string {
	return mergeSymbols(m.Symbol, m.Symbols)
}

// UnsubscribeQuoteMsg mirrors SubscribeQuoteMsg for the unsubscribe actions.
type UnsubscribeQuoteMsg struct {
	Symbol  string   `json:"symbol"`
	Symbols []string `json:"symbols"`
}

func (m UnsubscribeQuoteMsg) All() []string {
	return mergeSymbols(m.Symbol, m.Symbols)
}

// SubscribeChartMsg: {action: "subscribe_chart", symbol}
type SubscribeChartMsg struct {
	Symbol string `json:"symbol"`
}

// UnsubscribeChartMsg: {action: "unsubscribe_chart", symbol}
type UnsubscribeChartMsg struct {
	Symbol string `json:"symbol"`
}

// RefreshTokenMsg: {action: "refresh_token", token}
type RefreshTokenMsg struct {
	Token string `json:"token"`
}

// PingMsg: {action: "ping", timestamp?}
type PingMsg struct {
	Timestamp string `json:"timestamp,omitempty"`
}

func mergeSymbols(single string, many []string) []string {
	seen := make(map[string]struct{}, len(many)+1)
	out := make([]string, 0, len(many)+1)
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(single)
	for _, s := range many {
		add(s)
	}
	return out
}
