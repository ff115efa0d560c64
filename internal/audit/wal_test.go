package audit

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"execpipe/internal/schema"
)

func testOrder(id uint64, status schema.OrderStatus) schema.Order {
	return schema.Order{
		ID:           id,
		ClientID:     1,
		InstrumentID: 2,
		Side:         schema.OrderSideBuy,
		Type:         schema.OrderTypeLimit,
		Status:       status,
		Price:        15025,
		Qty:          5000,
		CreatedAt:    100,
		UpdatedAt:    200,
	}
}

func openSegments(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.wal"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestWALRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewWALSink(WALConfig{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	order := testOrder(1, schema.StatusRejected)
	order.Reason = "risk-breach:credit"
	trade := schema.Trade{
		ID:         "t-1",
		OrderID:    2,
		VenueID:    3,
		Token:      "tok-1",
		Result:     schema.TradeResultConfirmed,
		ExecPrice:  15025,
		ExecQty:    5000,
		ExecutedAt: 300,
	}

	ctx := context.Background()
	if err := sink.Record(ctx, OrderEvent(1, order)); err != nil {
		t.Fatalf("record order: %v", err)
	}
	if err := sink.Record(ctx, TradeEvent(2, testOrder(2, schema.StatusConfirmed), trade)); err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	segments := openSegments(t, dir)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	file, err := os.Open(segments[0])
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	defer file.Close()

	reader := NewWALReader(file)
	first, err := reader.Next()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if first.Header.Type != schema.EventOrder || first.Header.Seq != 1 {
		t.Fatalf("first header: %+v", first.Header)
	}
	if first.Order != order {
		t.Fatalf("first order: %+v", first.Order)
	}

	second, err := reader.Next()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if second.Header.Type != schema.EventTrade {
		t.Fatalf("second header: %+v", second.Header)
	}
	if second.Trade != trade {
		t.Fatalf("second trade: %+v", second.Trade)
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestWALJournalsTicks(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewWALSink(WALConfig{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	tick := schema.Tick{
		InstrumentID: 2,
		Source:       7,
		Price:        15025,
		Size:         5000,
		BidPrice:     15020,
		BidSize:      100,
		AskPrice:     15030,
		AskSize:      200,
		TsEvent:      100,
		TsRecv:       101,
	}
	header := schema.NewHeader(schema.EventTick, 7, 9, 100, 101)
	if err := sink.Record(context.Background(), TickEvent(header, tick)); err != nil {
		t.Fatalf("record tick: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	segments := openSegments(t, dir)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	file, err := os.Open(segments[0])
	if err != nil {
		t.Fatalf("open segment: %v", err)
	}
	defer file.Close()

	reader := NewWALReader(file)
	got, err := reader.Next()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Type != schema.EventTick || got.Header.Seq != 9 {
		t.Fatalf("header: %+v", got.Header)
	}
	if got.Tick != tick {
		t.Fatalf("tick: %+v", got.Tick)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestWALRotatesSegments(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewWALSink(WALConfig{Dir: dir, SegmentMaxBytes: 256})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := sink.Record(ctx, OrderEvent(uint64(i+1), testOrder(uint64(i+1), schema.StatusCreated))); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	segments := openSegments(t, dir)
	if len(segments) < 2 {
		t.Fatalf("expected rotation, got %d segments", len(segments))
	}

	total := 0
	for _, path := range segments {
		file, err := os.Open(path)
		if err != nil {
			t.Fatalf("open %s: %v", path, err)
		}
		reader := NewWALReader(file)
		for {
			_, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Fatalf("read %s: %v", path, err)
			}
			total++
		}
		file.Close()
	}
	if total != 10 {
		t.Fatalf("expected 10 records total, got %d", total)
	}
}

func TestWALDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewWALSink(WALConfig{Dir: dir})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Record(context.Background(), OrderEvent(1, testOrder(1, schema.StatusCreated))); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	segments := openSegments(t, dir)
	data, err := os.ReadFile(segments[0])
	if err != nil {
		t.Fatalf("read segment: %v", err)
	}
	data[walHeaderSize+4] ^= 0xFF
	if err := os.WriteFile(segments[0], data, 0o644); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	file, err := os.Open(segments[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	if _, err := NewWALReader(file).Next(); err != ErrWALCorrupt {
		t.Fatalf("expected ErrWALCorrupt, got %v", err)
	}
}

func TestWALRecordAfterCloseFails(t *testing.T) {
	sink, err := NewWALSink(WALConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Record(context.Background(), OrderEvent(1, testOrder(1, schema.StatusCreated))); err != ErrWALClosed {
		t.Fatalf("expected ErrWALClosed, got %v", err)
	}
}
