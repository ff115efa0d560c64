package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"

	"execpipe/internal/codec"
	"execpipe/internal/schema"
)

const (
	walVersion      uint16 = 1
	walHeaderSize          = 28
	walChecksumSize        = 4
)

var (
	walMagic = [4]byte{'A', 'D', 'T', '1'}
	walCRC   = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrWALQueueFull  = errors.New("audit wal queue full")
	ErrWALClosed     = errors.New("audit wal closed")
	ErrWALBadMagic   = errors.New("audit wal bad magic")
	ErrWALBadVersion = errors.New("audit wal unsupported version")
	ErrWALCorrupt    = errors.New("audit wal checksum mismatch")
)

// WALConfig controls the append-only audit log.
type WALConfig struct {
	// Dir holds the segment files. Created if missing.
	Dir string
	// FilePrefix names segments. Defaults to "audit".
	FilePrefix string
	// SegmentMaxBytes rotates segments. Defaults to 128MiB.
	SegmentMaxBytes int64
	// QueueSize bounds buffered events. Defaults to 4096.
	QueueSize int
	// FlushInterval drives periodic flushes. Defaults to 1s.
	FlushInterval time.Duration
}

func (c WALConfig) withDefaults() WALConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = "audit"
	}
	if c.SegmentMaxBytes <= 0 {
		c.SegmentMaxBytes = 128 << 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// WALSink appends framed, checksummed audit records to segment files.
// Record never blocks; a full queue is reported as ErrWALQueueFull
// and the event is lost from this sink only.
type WALSink struct {
	cfg    WALConfig
	ch     chan Event
	wg     sync.WaitGroup
	err    atomic.Value
	closed atomic.Bool

	file   *os.File
	buf    *bufio.Writer
	size   int64
	segSeq int
}

// NewWALSink creates the directory and starts the writer loop.
func NewWALSink(cfg WALConfig) (*WALSink, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, errors.New("audit wal dir is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create audit dir")
	}
	w := &WALSink{
		cfg: cfg,
		ch:  make(chan Event, cfg.QueueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *WALSink) Name() string { return "wal" }

// Record enqueues the event without blocking.
func (w *WALSink) Record(ctx context.Context, e Event) error {
	if w.closed.Load() {
		return ErrWALClosed
	}
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	select {
	case w.ch <- e:
		return nil
	default:
		return ErrWALQueueFull
	}
}

// Close drains the queue, flushes and closes the current segment.
func (w *WALSink) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.wg.Wait()
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (w *WALSink) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	defer func() {
		if err := w.closeSegment(); err != nil {
			w.setErr(err)
		}
	}()

	header := make([]byte, walHeaderSize)
	var payload []byte
	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				return
			}
			payload = encodeWALPayload(payload[:0], e)
			if err := w.append(header, e.Header, payload); err != nil {
				w.setErr(err)
				return
			}
		case <-ticker.C:
			if w.buf != nil {
				if err := w.buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func encodeWALPayload(dst []byte, e Event) []byte {
	switch e.Header.Type {
	case schema.EventTrade:
		return codec.EncodeTrade(dst, e.Trade)
	case schema.EventTick:
		return codec.EncodeTick(dst, e.Tick)
	default:
		return codec.EncodeOrder(dst, e.Order)
	}
}

func (w *WALSink) append(header []byte, eh schema.EventHeader, payload []byte) error {
	frameSize := int64(walHeaderSize + len(payload) + walChecksumSize)
	if w.file == nil || w.size+frameSize > w.cfg.SegmentMaxBytes {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	copy(header[0:4], walMagic[:])
	binary.LittleEndian.PutUint16(header[4:6], walVersion)
	binary.LittleEndian.PutUint16(header[6:8], uint16(eh.Type))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint64(header[12:20], eh.Seq)
	binary.LittleEndian.PutUint64(header[20:28], uint64(eh.TsEvent))

	sum := crc32.Update(0, walCRC, header)
	sum = crc32.Update(sum, walCRC, payload)
	var crc [walChecksumSize]byte
	binary.LittleEndian.PutUint32(crc[:], sum)

	if _, err := w.buf.Write(header); err != nil {
		return err
	}
	if _, err := w.buf.Write(payload); err != nil {
		return err
	}
	if _, err := w.buf.Write(crc[:]); err != nil {
		return err
	}
	w.size += frameSize
	return nil
}

func (w *WALSink) rotate() error {
	if err := w.closeSegment(); err != nil {
		return err
	}
	for {
		w.segSeq++
		name := w.cfg.FilePrefix + "-" +
			time.Now().UTC().Format("20060102-150405") + "-" +
			paddedSeq(w.segSeq) + ".wal"
		file, err := os.OpenFile(filepath.Join(w.cfg.Dir, name),
			os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return err
		}
		w.file = file
		w.buf = bufio.NewWriterSize(file, 64*1024)
		w.size = 0
		return nil
	}
}

func paddedSeq(n int) string {
	digits := []byte("000000")
	for i := len(digits) - 1; i >= 0 && n > 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

func (w *WALSink) closeSegment() error {
	if w.file == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		w.file = nil
		return err
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		w.file = nil
		return err
	}
	err := w.file.Close()
	w.file = nil
	w.buf = nil
	return err
}

func (w *WALSink) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}

// WALReader decodes one segment sequentially. The returned event is
// only valid until the next call.
type WALReader struct {
	r       *bufio.Reader
	header  []byte
	payload []byte
}

// NewWALReader wraps a segment stream.
func NewWALReader(r io.Reader) *WALReader {
	return &WALReader{
		r:      bufio.NewReader(r),
		header: make([]byte, walHeaderSize),
	}
}

// Next returns the next audit event or io.EOF at a clean segment end.
func (r *WALReader) Next() (Event, error) {
	if n, err := io.ReadFull(r.r, r.header); err != nil {
		if err == io.EOF && n == 0 {
			return Event{}, io.EOF
		}
		return Event{}, err
	}
	if !bytes.Equal(r.header[0:4], walMagic[:]) {
		return Event{}, ErrWALBadMagic
	}
	if binary.LittleEndian.Uint16(r.header[4:6]) != walVersion {
		return Event{}, ErrWALBadVersion
	}

	eventType := schema.EventType(binary.LittleEndian.Uint16(r.header[6:8]))
	payloadLen := binary.LittleEndian.Uint32(r.header[8:12])
	seq := binary.LittleEndian.Uint64(r.header[12:20])
	ts := int64(binary.LittleEndian.Uint64(r.header[20:28]))

	if cap(r.payload) < int(payloadLen) {
		r.payload = make([]byte, payloadLen)
	}
	r.payload = r.payload[:payloadLen]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return Event{}, err
	}

	var crc [walChecksumSize]byte
	if _, err := io.ReadFull(r.r, crc[:]); err != nil {
		return Event{}, err
	}
	sum := crc32.Update(0, walCRC, r.header)
	sum = crc32.Update(sum, walCRC, r.payload)
	if sum != binary.LittleEndian.Uint32(crc[:]) {
		return Event{}, ErrWALCorrupt
	}

	e := Event{Header: schema.NewHeader(eventType, 0, seq, ts, ts)}
	switch eventType {
	case schema.EventTrade:
		trade, ok := codec.DecodeTrade(r.payload)
		if !ok {
			return Event{}, ErrWALCorrupt
		}
		e.Trade = trade
	case schema.EventTick:
		tick, ok := codec.DecodeTick(r.payload)
		if !ok {
			return Event{}, ErrWALCorrupt
		}
		e.Tick = tick
	default:
		order, ok := codec.DecodeOrder(r.payload)
		if !ok {
			return Event{}, ErrWALCorrupt
		}
		e.Order = order
	}
	return e, nil
}
