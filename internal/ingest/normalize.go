package ingest

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"execpipe/internal/schema"
)

var (
	// ErrFiltered marks a tick for an instrument outside the allow list.
	ErrFiltered = errors.New("instrument filtered")
	// ErrOutOfOrder marks a tick older than the last accepted one for
	// the same instrument and source.
	ErrOutOfOrder = errors.New("tick out of order")
)

// wireTick is the decoded upstream message. Feeds disagree on field
// names, so every field accepts the long and the short form.
type wireTick struct {
	Symbol   string
	Price    decimal.Decimal
	Size     decimal.Decimal
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
	TsEvent  int64
	Flags    uint16
}

var fieldAliases = map[string][]string{
	"symbol":    {"symbol", "s", "instrument"},
	"price":     {"price", "p", "last"},
	"size":      {"size", "q", "qty", "quantity"},
	"bid_price": {"bid_price", "bid", "b"},
	"bid_size":  {"bid_size", "bq", "B"},
	"ask_price": {"ask_price", "ask", "a"},
	"ask_size":  {"ask_size", "aq", "A"},
	"ts":        {"ts", "t", "ts_event", "timestamp"},
	"flags":     {"flags", "f"},
}

func pickRaw(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	for _, alias := range fieldAliases[key] {
		if raw, ok := fields[alias]; ok {
			return raw, true
		}
	}
	return nil, false
}

func pickDecimal(fields map[string]json.RawMessage, key string) (decimal.Decimal, error) {
	raw, ok := pickRaw(fields, key)
	if !ok {
		return decimal.Decimal{}, nil
	}
	// Upstream sends numerics either as JSON numbers or quoted strings.
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "parse "+key)
	}
	return d, nil
}

func decodeWireTick(data []byte) (wireTick, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return wireTick{}, errors.Wrap(err, "decode tick")
	}

	var tick wireTick
	if raw, ok := pickRaw(fields, "symbol"); ok {
		if err := json.Unmarshal(raw, &tick.Symbol); err != nil {
			return wireTick{}, errors.Wrap(err, "parse symbol")
		}
	}
	if tick.Symbol == "" {
		return wireTick{}, errors.New("tick has no symbol")
	}

	var err error
	if tick.Price, err = pickDecimal(fields, "price"); err != nil {
		return wireTick{}, err
	}
	if tick.Size, err = pickDecimal(fields, "size"); err != nil {
		return wireTick{}, err
	}
	if tick.BidPrice, err = pickDecimal(fields, "bid_price"); err != nil {
		return wireTick{}, err
	}
	if tick.BidSize, err = pickDecimal(fields, "bid_size"); err != nil {
		return wireTick{}, err
	}
	if tick.AskPrice, err = pickDecimal(fields, "ask_price"); err != nil {
		return wireTick{}, err
	}
	if tick.AskSize, err = pickDecimal(fields, "ask_size"); err != nil {
		return wireTick{}, err
	}

	if raw, ok := pickRaw(fields, "ts"); ok {
		if err := json.Unmarshal(raw, &tick.TsEvent); err != nil {
			return wireTick{}, errors.Wrap(err, "parse ts")
		}
	}
	if raw, ok := pickRaw(fields, "flags"); ok {
		if err := json.Unmarshal(raw, &tick.Flags); err != nil {
			return wireTick{}, errors.Wrap(err, "parse flags")
		}
	}
	return tick, nil
}

type orderKey struct {
	instrument schema.InstrumentID
	source     uint16
}

// Normalizer maps raw feed messages to schema ticks. It resolves
// symbols through the registry, converts decimal fields to scaled
// integers and rejects stale updates per instrument and source.
// Used by a single runner goroutine.
type Normalizer struct {
	reg    *schema.Registry
	allow  map[schema.InstrumentID]struct{}
	lastTs map[orderKey]int64
}

// NewNormalizer creates a normalizer. An empty allow list admits every
// registered instrument.
func NewNormalizer(reg *schema.Registry, allow []schema.InstrumentID) *Normalizer {
	allowSet := make(map[schema.InstrumentID]struct{}, len(allow))
	for _, id := range allow {
		allowSet[id] = struct{}{}
	}
	return &Normalizer{
		reg:    reg,
		allow:  allowSet,
		lastTs: make(map[orderKey]int64),
	}
}

// Normalize converts one raw message into a header and tick.
// ErrFiltered and ErrOutOfOrder identify admissible drops; any other
// error means the message was malformed.
func (n *Normalizer) Normalize(seq uint64, source uint16, raw RawMessage) (schema.EventHeader, schema.Tick, error) {
	if n.reg == nil {
		return schema.EventHeader{}, schema.Tick{}, errors.New("registry is nil")
	}

	wire, err := decodeWireTick(raw.Data)
	if err != nil {
		return schema.EventHeader{}, schema.Tick{}, err
	}

	instrumentID, ok := n.reg.InstrumentIDByName(wire.Symbol)
	if !ok {
		return schema.EventHeader{}, schema.Tick{}, errors.Wrap(ErrFiltered, wire.Symbol)
	}
	if len(n.allow) > 0 {
		if _, ok := n.allow[instrumentID]; !ok {
			return schema.EventHeader{}, schema.Tick{}, errors.Wrap(ErrFiltered, wire.Symbol)
		}
	}
	instrument, _ := n.reg.Instrument(instrumentID)

	tsRecv := raw.TsRecv
	if tsRecv == 0 {
		tsRecv = time.Now().UTC().UnixNano()
	}
	tsEvent := wire.TsEvent
	if tsEvent == 0 {
		tsEvent = tsRecv
	}

	key := orderKey{instrument: instrumentID, source: source}
	if last, ok := n.lastTs[key]; ok && tsEvent < last {
		return schema.EventHeader{}, schema.Tick{}, errors.Wrap(ErrOutOfOrder, wire.Symbol)
	}
	n.lastTs[key] = tsEvent

	header := schema.NewHeader(schema.EventTick, source, seq, tsEvent, tsRecv)
	tick := schema.Tick{
		InstrumentID: instrumentID,
		Source:       source,
		Flags:        wire.Flags,
		Price:        scalePrice(wire.Price, instrument.Scale),
		Size:         scaleQuantity(wire.Size, instrument.Scale),
		BidPrice:     scalePrice(wire.BidPrice, instrument.Scale),
		BidSize:      scaleQuantity(wire.BidSize, instrument.Scale),
		AskPrice:     scalePrice(wire.AskPrice, instrument.Scale),
		AskSize:      scaleQuantity(wire.AskSize, instrument.Scale),
		TsEvent:      tsEvent,
		TsRecv:       tsRecv,
	}
	return header, tick, nil
}

func scalePrice(d decimal.Decimal, scale schema.ScaleSpec) schema.Price {
	return schema.Price(d.Shift(int32(scale.PriceScale)).IntPart())
}

func scaleQuantity(d decimal.Decimal, scale schema.ScaleSpec) schema.Quantity {
	return schema.Quantity(d.Shift(int32(scale.QuantityScale)).IntPart())
}
