package codec

import (
	"encoding/binary"

	"execpipe/internal/schema"
)

const TickPayloadSize = 72

// EncodeTick serializes a tick into a fixed-size payload.
func EncodeTick(dst []byte, tick schema.Tick) []byte {
	if cap(dst) < TickPayloadSize {
		dst = make([]byte, TickPayloadSize)
	} else {
		dst = dst[:TickPayloadSize]
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(tick.InstrumentID))
	binary.LittleEndian.PutUint16(dst[4:6], tick.Source)
	binary.LittleEndian.PutUint16(dst[6:8], tick.Flags)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(tick.Price))
	binary.LittleEndian.PutUint64(dst[16:24], uint64(tick.Size))
	binary.LittleEndian.PutUint64(dst[24:32], uint64(tick.BidPrice))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(tick.BidSize))
	binary.LittleEndian.PutUint64(dst[40:48], uint64(tick.AskPrice))
	binary.LittleEndian.PutUint64(dst[48:56], uint64(tick.AskSize))
	binary.LittleEndian.PutUint64(dst[56:64], uint64(tick.TsEvent))
	binary.LittleEndian.PutUint64(dst[64:72], uint64(tick.TsRecv))

	return dst
}

// DecodeTick parses a fixed-size tick payload.
func DecodeTick(src []byte) (schema.Tick, bool) {
	if len(src) < TickPayloadSize {
		return schema.Tick{}, false
	}
	return schema.Tick{
		InstrumentID: schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4])),
		Source:       binary.LittleEndian.Uint16(src[4:6]),
		Flags:        binary.LittleEndian.Uint16(src[6:8]),
		Price:        schema.Price(int64(binary.LittleEndian.Uint64(src[8:16]))),
		Size:         schema.Quantity(int64(binary.LittleEndian.Uint64(src[16:24]))),
		BidPrice:     schema.Price(int64(binary.LittleEndian.Uint64(src[24:32]))),
		BidSize:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[32:40]))),
		AskPrice:     schema.Price(int64(binary.LittleEndian.Uint64(src[40:48]))),
		AskSize:      schema.Quantity(int64(binary.LittleEndian.Uint64(src[48:56]))),
		TsEvent:      int64(binary.LittleEndian.Uint64(src[56:64])),
		TsRecv:       int64(binary.LittleEndian.Uint64(src[64:72])),
	}, true
}
