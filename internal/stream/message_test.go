package stream

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		kind  MessageKind
		price string
	}{
		{"ticker", `{"channel":"push.ticker","data":{"symbol":"PEPE_USDT","lastPrice":0.0000123},"symbol":"PEPE_USDT"}`, MessagePrice, "0.0000123"},
		{"ticker string price", `{"channel":"push.ticker","data":{"symbol":"PEPE_USDT","lastPrice":"1.5"}}`, MessagePrice, "1.5"},
		{"ticker other symbol", `{"channel":"push.ticker","data":{"symbol":"BTC_USDT","lastPrice":1}}`, MessageIgnored, ""},
		{"deal list takes last", `{"channel":"push.deal","data":[{"p":1.1,"s":"PEPE_USDT"},{"p":1.2}]}`, MessagePrice, "1.2"},
		{"deal object price key", `{"channel":"push.deal","data":{"price":"2.5","symbol":"PEPE_USDT"}}`, MessagePrice, "2.5"},
		{"deal other symbol", `{"channel":"push.deal","data":[{"p":1,"s":"BTC_USDT"}]}`, MessageIgnored, ""},
		{"ticker zero price", `{"channel":"push.ticker","data":{"symbol":"PEPE_USDT","lastPrice":0}}`, MessageIgnored, ""},
		{"ticker negative price", `{"channel":"push.ticker","data":{"symbol":"PEPE_USDT","lastPrice":"-1"}}`, MessageIgnored, ""},
		{"deal zero price", `{"channel":"push.deal","data":[{"p":0,"s":"PEPE_USDT"}]}`, MessageIgnored, ""},
		{"deal empty", `{"channel":"push.deal","data":[]}`, MessageIgnored, ""},
		{"pong method", `{"method":"pong"}`, MessagePong, ""},
		{"pong channel", `{"channel":"pong","data":1700000000000}`, MessagePong, ""},
		{"ack", `{"channel":"rs.sub.ticker","data":"success"}`, MessageIgnored, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tc.raw), "PEPE_USDT")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Kind != tc.kind {
				t.Fatalf("kind=%v want %v", msg.Kind, tc.kind)
			}
			if tc.price != "" && !msg.Price.Equal(decimal.RequireFromString(tc.price)) {
				t.Fatalf("price=%s want %s", msg.Price, tc.price)
			}
		})
	}
}

func TestParseMessageMalformed(t *testing.T) {
	for _, raw := range []string{`not json`, `{"channel":"push.ticker","data":[1,2]}`, `{"channel":"push.deal","data":[{"p":"abc"}]}`} {
		if _, err := ParseMessage([]byte(raw), "PEPE_USDT"); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %s, got %v", raw, err)
		}
	}
}
