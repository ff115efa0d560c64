package codec

import (
	"encoding/binary"

	"execpipe/internal/schema"
)

// TradeFixedSize covers the fixed fields of a trade payload; trade ID,
// idempotency token and reason follow as length-prefixed strings.
const TradeFixedSize = 38

// EncodeTrade serializes a trade into a payload with string tails.
func EncodeTrade(dst []byte, trade schema.Trade) []byte {
	need := TradeFixedSize + stringSize(trade.ID) + stringSize(trade.Token) + stringSize(trade.Reason)
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}

	binary.LittleEndian.PutUint64(dst[0:8], trade.OrderID)
	binary.LittleEndian.PutUint16(dst[8:10], uint16(trade.VenueID))
	binary.LittleEndian.PutUint16(dst[10:12], uint16(trade.Result))
	binary.LittleEndian.PutUint64(dst[12:20], uint64(trade.ExecPrice))
	binary.LittleEndian.PutUint64(dst[20:28], uint64(trade.ExecQty))
	binary.LittleEndian.PutUint64(dst[28:36], uint64(trade.ExecutedAt))
	binary.LittleEndian.PutUint16(dst[36:38], 0)

	off := TradeFixedSize
	putString(dst[off:], trade.ID)
	off += stringSize(trade.ID)
	putString(dst[off:], trade.Token)
	off += stringSize(trade.Token)
	putString(dst[off:], trade.Reason)

	return dst
}

// DecodeTrade parses a trade payload.
func DecodeTrade(src []byte) (schema.Trade, bool) {
	if len(src) < TradeFixedSize {
		return schema.Trade{}, false
	}
	off := TradeFixedSize
	id, ok := getString(src[off:])
	if !ok {
		return schema.Trade{}, false
	}
	off += 2 + len(id)
	token, ok := getString(src[off:])
	if !ok {
		return schema.Trade{}, false
	}
	off += 2 + len(token)
	reason, ok := getString(src[off:])
	if !ok {
		return schema.Trade{}, false
	}
	return schema.Trade{
		OrderID:    binary.LittleEndian.Uint64(src[0:8]),
		VenueID:    schema.VenueID(binary.LittleEndian.Uint16(src[8:10])),
		Result:     schema.TradeResult(binary.LittleEndian.Uint16(src[10:12])),
		ExecPrice:  schema.Price(int64(binary.LittleEndian.Uint64(src[12:20]))),
		ExecQty:    schema.Quantity(int64(binary.LittleEndian.Uint64(src[20:28]))),
		ExecutedAt: int64(binary.LittleEndian.Uint64(src[28:36])),
		ID:         id,
		Token:      token,
		Reason:     reason,
	}, true
}
