package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfig = `{
  "registry": {
    "venues": [
      {"name": "alpha", "feeBps": 10},
      {"name": "beta", "feeBps": 30}
    ],
    "instruments": [
      {"name": "BTC-USD", "priceScale": 2, "quantityScale": 4},
      {"name": "ETH-USD", "priceScale": 2, "quantityScale": 4}
    ],
    "clients": [
      {"name": "acme", "creditLimit": 1000000000}
    ]
  },
  "risk": {"maxInstrumentNotional": 500000000},
  "compliance": {
    "restricted": ["ETH-USD"],
    "shortSaleBans": ["BTC-USD"],
    "maxOrderQty": 1000000,
    "refreshInterval": "30s"
  },
  "router": {"strategy": "smart-order-routing"},
  "execution": {"ackTimeout": "2s", "queryTimeout": "1s", "tripThreshold": 5},
  "pipeline": {"queueSize": 512, "workers": 8},
  "ingest": {
    "feeds": [
      {"kind": "ws", "url": "ws://localhost:9001/feed", "venue": "alpha"},
      {"kind": "sim", "count": 100}
    ],
    "allow": ["BTC-USD"]
  },
  "audit": {"walDir": "/tmp/audit"},
  "api": {"listenAddr": ":8080"},
  "snapshot": {"path": "/tmp/exposure.json", "interval": "1m"}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, testConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Registry.VenueCount() != 2 || loaded.Registry.InstrumentCount() != 2 {
		t.Fatalf("registry: %d venues, %d instruments",
			loaded.Registry.VenueCount(), loaded.Registry.InstrumentCount())
	}
	client, ok := loaded.Registry.Client(1)
	if !ok || client.CreditLimit != 1_000_000_000 {
		t.Fatalf("client: %+v", client)
	}

	if loaded.Risk.MaxInstrumentNotional != 500_000_000 {
		t.Fatalf("risk: %+v", loaded.Risk)
	}

	ethID, _ := loaded.Registry.InstrumentIDByName("ETH-USD")
	if _, restricted := loaded.RefData.Restricted[ethID]; !restricted {
		t.Fatal("ETH-USD not restricted")
	}
	btcID, _ := loaded.Registry.InstrumentIDByName("BTC-USD")
	if _, banned := loaded.RefData.ShortSaleBans[btcID]; !banned {
		t.Fatal("BTC-USD not short sale banned")
	}
	if loaded.RefData.MaxOrderQty != 1_000_000 {
		t.Fatalf("max order qty: %d", loaded.RefData.MaxOrderQty)
	}
	if loaded.ComplianceRefresh != 30*time.Second {
		t.Fatalf("refresh: %s", loaded.ComplianceRefresh)
	}

	if loaded.Strategy.Name() != "smart-order-routing" {
		t.Fatalf("strategy: %s", loaded.Strategy.Name())
	}
	if loaded.Execution.AckTimeout != 2*time.Second || loaded.Execution.QueryTimeout != time.Second {
		t.Fatalf("execution: %+v", loaded.Execution)
	}
	if loaded.Execution.TripThreshold != 5 {
		t.Fatalf("trip threshold: %d", loaded.Execution.TripThreshold)
	}
	if loaded.Pipeline.QueueSize != 512 || loaded.Pipeline.Workers != 8 {
		t.Fatalf("pipeline: %+v", loaded.Pipeline)
	}

	if len(loaded.Ingest.Feeds) != 2 {
		t.Fatalf("feeds: %+v", loaded.Ingest.Feeds)
	}
	if loaded.Ingest.Feeds[0].SourceID != 1 || loaded.Ingest.Feeds[1].SourceID != 2 {
		t.Fatalf("source ids: %+v", loaded.Ingest.Feeds)
	}
	if len(loaded.AllowInstruments) != 1 || loaded.AllowInstruments[0] != btcID {
		t.Fatalf("allow: %+v", loaded.AllowInstruments)
	}
	alphaID, _ := loaded.Registry.VenueIDByName("alpha")
	if loaded.VenueBySource[1] != alphaID {
		t.Fatalf("venue by source: %+v", loaded.VenueBySource)
	}

	if loaded.API.ListenAddr != ":8080" {
		t.Fatalf("api: %+v", loaded.API)
	}
	if loaded.Snapshot.Interval != time.Minute {
		t.Fatalf("snapshot: %+v", loaded.Snapshot)
	}
}

func TestLoadDefaultStrategy(t *testing.T) {
	cfg := `{
      "registry": {
        "venues": [{"name": "alpha"}],
        "instruments": [{"name": "BTC-USD", "priceScale": 2, "quantityScale": 4}]
      }
    }`
	loaded, err := Load(writeConfig(t, cfg))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Strategy.Name() != "best-execution" {
		t.Fatalf("default strategy: %s", loaded.Strategy.Name())
	}
}

func TestLoadRejectsBrokenConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  string
	}{
		{"no venues", `{"registry": {"instruments": [{"name": "BTC-USD"}]}}`},
		{"no instruments", `{"registry": {"venues": [{"name": "alpha"}]}}`},
		{"unknown strategy", `{
          "registry": {"venues": [{"name": "alpha"}], "instruments": [{"name": "BTC-USD"}]},
          "router": {"strategy": "coin-flip"}
        }`},
		{"unknown restricted instrument", `{
          "registry": {"venues": [{"name": "alpha"}], "instruments": [{"name": "BTC-USD"}]},
          "compliance": {"restricted": ["DOGE-USD"]}
        }`},
		{"ws feed without url", `{
          "registry": {"venues": [{"name": "alpha"}], "instruments": [{"name": "BTC-USD"}]},
          "ingest": {"feeds": [{"kind": "ws"}]}
        }`},
		{"unknown allow instrument", `{
          "registry": {"venues": [{"name": "alpha"}], "instruments": [{"name": "BTC-USD"}]},
          "ingest": {"allow": ["DOGE-USD"]}
        }`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.cfg)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error")
	}
}
