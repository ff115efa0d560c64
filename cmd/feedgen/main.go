// Command feedgen serves a synthetic market data stream over a
// websocket endpoint, matching the wire format execd ingests. Meant
// for local runs and load tests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	addr := flag.String("addr", ":9001", "Listen address")
	path := flag.String("path", "/feed", "Websocket path")
	symbols := flag.String("symbols", "BTC-USD,ETH-USD", "Comma separated instrument names")
	interval := flag.Duration("interval", 10*time.Millisecond, "Delay between ticks")
	count := flag.Int("count", 0, "Ticks per connection (0=unbounded)")
	basePrice := flag.Int64("base-price", 100, "Base price in natural units")
	flag.Parse()

	names := strings.Split(*symbols, ",")
	for i := range names {
		names[i] = strings.TrimSpace(names[i])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc(*path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logs.Errorf("upgrade: %v", err)
			return
		}
		go serveTicks(ctx, conn, names, *interval, *count, *basePrice)
	})

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logs.Infof("feedgen streaming %d symbols on %s%s", len(names), *addr, *path)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("feedgen failed: %v", err)
	}
}

func serveTicks(ctx context.Context, conn *websocket.Conn, names []string, interval time.Duration, count int, basePrice int64) {
	defer conn.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count == 0 || sent < count; sent++ {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case <-ticker.C:
		}

		symbol := names[sent%len(names)]
		price := basePrice + int64(sent%16)
		ts := time.Now().UTC().UnixNano()
		msg := fmt.Appendf(nil,
			`{"symbol":%q,"price":%d,"size":1,"bid":%d,"bid_size":1,"ask":%d,"ask_size":1,"ts":%d}`,
			symbol, price, price-1, price+1, ts)
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}
