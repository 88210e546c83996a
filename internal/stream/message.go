package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	channelTicker = "push.ticker"
	channelDeal   = "push.deal"
	channelPong   = "pong"
	methodPong    = "pong"
)

// Request is an outbound control frame.
type Request struct {
	Method string `json:"method"`
	Param  *Param `json:"param,omitempty"`
}

// Param carries the subscription target.
type Param struct {
	Symbol string `json:"symbol"`
}

func subscribeTicker(pair string) Request { return Request{Method: "sub.ticker", Param: &Param{Symbol: pair}} }
func subscribeDeal(pair string) Request   { return Request{Method: "sub.deal", Param: &Param{Symbol: pair}} }
func pingRequest() Request                { return Request{Method: "ping"} }

// MessageKind classifies an inbound frame.
type MessageKind int

const (
	MessageIgnored MessageKind = iota
	MessagePong
	MessagePrice
)

// Message is a parsed inbound frame.
type Message struct {
	Kind    MessageKind
	Channel string
	Price   decimal.Decimal
}

// ErrMalformed marks frames that cannot be decoded.
var ErrMalformed = errors.New("stream: malformed frame")

type envelope struct {
	Method  string          `json:"method"`
	Channel string          `json:"channel"`
	Symbol  string          `json:"symbol"`
	Data    json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol    string              `json:"symbol"`
	LastPrice decimal.NullDecimal `json:"lastPrice"`
}

type dealData struct {
	P      decimal.NullDecimal `json:"p"`
	Price  decimal.NullDecimal `json:"price"`
	S      string              `json:"s"`
	Symbol string              `json:"symbol"`
}

// ParseMessage decodes a frame received on a connection subscribed to pair. Frames for other
// symbols, acknowledgements and unknown channels yield MessageIgnored.
func ParseMessage(raw []byte, pair string) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Method == methodPong || env.Channel == channelPong {
		return Message{Kind: MessagePong, Channel: env.Channel}, nil
	}

	switch env.Channel {
	case channelTicker:
		var data tickerData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Message{}, fmt.Errorf("%w: ticker: %v", ErrMalformed, err)
		}
		if data.Symbol != pair || !data.LastPrice.Valid || data.LastPrice.Decimal.Sign() <= 0 {
			return Message{Kind: MessageIgnored, Channel: env.Channel}, nil
		}
		return Message{Kind: MessagePrice, Channel: env.Channel, Price: data.LastPrice.Decimal}, nil

	case channelDeal:
		deal, ok, err := lastDeal(env.Data)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			return Message{Kind: MessageIgnored, Channel: env.Channel}, nil
		}
		price := deal.Price
		if !price.Valid {
			price = deal.P
		}
		symbol := deal.Symbol
		if symbol == "" {
			symbol = deal.S
		}
		if !price.Valid || price.Decimal.Sign() <= 0 || (symbol != "" && symbol != pair) {
			return Message{Kind: MessageIgnored, Channel: env.Channel}, nil
		}
		return Message{Kind: MessagePrice, Channel: env.Channel, Price: price.Decimal}, nil
	}

	return Message{Kind: MessageIgnored, Channel: env.Channel}, nil
}

// lastDeal accepts either a list of deals or a single deal object.
func lastDeal(raw json.RawMessage) (dealData, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return dealData{}, false, nil
	}

	if trimmed[0] == '[' {
		var deals []dealData
		if err := json.Unmarshal(trimmed, &deals); err != nil {
			return dealData{}, false, fmt.Errorf("%w: deal list: %v", ErrMalformed, err)
		}
		if len(deals) == 0 {
			return dealData{}, false, nil
		}
		return deals[len(deals)-1], true, nil
	}

	var deal dealData
	if err := json.Unmarshal(trimmed, &deal); err != nil {
		return dealData{}, false, fmt.Errorf("%w: deal: %v", ErrMalformed, err)
	}
	return deal, true, nil
}
