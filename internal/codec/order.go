package codec

import (
	"encoding/binary"

	"execpipe/internal/schema"
)

// OrderFixedSize covers the fixed fields of an order payload; the
// rejection reason follows as a length-prefixed string.
const OrderFixedSize = 56

const maxStringLen = int(^uint16(0))

// EncodeOrder serializes an order into a payload with a string tail.
func EncodeOrder(dst []byte, order schema.Order) []byte {
	need := OrderFixedSize + 2 + len(order.Reason)
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}

	binary.LittleEndian.PutUint64(dst[0:8], order.ID)
	binary.LittleEndian.PutUint32(dst[8:12], uint32(order.ClientID))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(order.InstrumentID))
	binary.LittleEndian.PutUint16(dst[16:18], uint16(order.Side))
	binary.LittleEndian.PutUint16(dst[18:20], uint16(order.Type))
	binary.LittleEndian.PutUint16(dst[20:22], uint16(order.Status))
	binary.LittleEndian.PutUint16(dst[22:24], uint16(order.VenueID))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(order.Price))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(order.Qty))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(order.CreatedAt))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(order.UpdatedAt))
	putString(dst[OrderFixedSize:], order.Reason)

	return dst
}

// DecodeOrder parses an order payload.
func DecodeOrder(src []byte) (schema.Order, bool) {
	if len(src) < OrderFixedSize+2 {
		return schema.Order{}, false
	}
	reason, ok := getString(src[OrderFixedSize:])
	if !ok {
		return schema.Order{}, false
	}
	return schema.Order{
		ID:           binary.LittleEndian.Uint64(src[0:8]),
		ClientID:     schema.ClientID(binary.LittleEndian.Uint32(src[8:12])),
		InstrumentID: schema.InstrumentID(binary.LittleEndian.Uint32(src[12:16])),
		Side:         schema.OrderSide(binary.LittleEndian.Uint16(src[16:18])),
		Type:         schema.OrderType(binary.LittleEndian.Uint16(src[18:20])),
		Status:       schema.OrderStatus(binary.LittleEndian.Uint16(src[20:22])),
		VenueID:      schema.VenueID(binary.LittleEndian.Uint16(src[22:24])),
		Price:        schema.Price(int64(binary.LittleEndian.Uint64(src[24:32]))),
		Qty:          schema.Quantity(int64(binary.LittleEndian.Uint64(src[32:40]))),
		CreatedAt:    int64(binary.LittleEndian.Uint64(src[40:48])),
		UpdatedAt:    int64(binary.LittleEndian.Uint64(src[48:56])),
		Reason:       reason,
	}, true
}

func putString(dst []byte, s string) {
	if len(s) > maxStringLen {
		s = s[:maxStringLen]
	}
	binary.LittleEndian.PutUint16(dst[0:2], uint16(len(s)))
	copy(dst[2:], s)
}

func getString(src []byte) (string, bool) {
	if len(src) < 2 {
		return "", false
	}
	n := int(binary.LittleEndian.Uint16(src[0:2]))
	if len(src) < 2+n {
		return "", false
	}
	return string(src[2 : 2+n]), true
}

func stringSize(s string) int {
	if len(s) > maxStringLen {
		return 2 + maxStringLen
	}
	return 2 + len(s)
}
