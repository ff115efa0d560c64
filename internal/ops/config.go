// Package ops loads and resolves the runtime configuration.
package ops

import (
	"context"
	"time"

	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"execpipe/internal/compliance"
	"execpipe/internal/execution"
	"execpipe/internal/pipeline"
	"execpipe/internal/risk"
	"execpipe/internal/router"
	"execpipe/internal/schema"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Registry   RegistryConfig   `mapstructure:"registry"`
	Risk       risk.Config      `mapstructure:"risk"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Router     RouterConfig     `mapstructure:"router"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Audit      AuditConfig      `mapstructure:"audit"`
	API        APIConfig        `mapstructure:"api"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
}

// RegistryConfig defines venue, instrument and client mappings.
type RegistryConfig struct {
	Venues      []VenueConfig      `mapstructure:"venues"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Clients     []ClientConfig     `mapstructure:"clients"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name   string `mapstructure:"name"`
	FeeBps int64  `mapstructure:"feeBps"`
}

// InstrumentConfig describes an instrument entry.
type InstrumentConfig struct {
	Name          string `mapstructure:"name"`
	PriceScale    int32  `mapstructure:"priceScale"`
	QuantityScale int32  `mapstructure:"quantityScale"`
}

// ClientConfig describes a trading client entry.
type ClientConfig struct {
	Name        string `mapstructure:"name"`
	CreditLimit int64  `mapstructure:"creditLimit"`
}

// ComplianceConfig holds reference data and the refresh cadence.
type ComplianceConfig struct {
	Restricted      []string      `mapstructure:"restricted"`
	ShortSaleBans   []string      `mapstructure:"shortSaleBans"`
	MaxOrderQty     int64         `mapstructure:"maxOrderQty"`
	RefreshInterval time.Duration `mapstructure:"refreshInterval"`
}

// RouterConfig selects the routing strategy.
type RouterConfig struct {
	Strategy string `mapstructure:"strategy"`
}

// ExecutionConfig holds venue interaction timeouts and the health
// trip threshold.
type ExecutionConfig struct {
	AckTimeout    time.Duration `mapstructure:"ackTimeout"`
	QueryTimeout  time.Duration `mapstructure:"queryTimeout"`
	TripThreshold int           `mapstructure:"tripThreshold"`
}

// PipelineConfig sizes the stage queues and workers.
type PipelineConfig struct {
	QueueSize int `mapstructure:"queueSize"`
	Workers   int `mapstructure:"workers"`
}

// IngestConfig describes the market data feeds.
type IngestConfig struct {
	Feeds []FeedConfig `mapstructure:"feeds"`
	// Allow limits ingestion to the named instruments. Empty admits all.
	Allow []string `mapstructure:"allow"`
}

// FeedConfig describes one feed connection.
type FeedConfig struct {
	// Kind is "ws" or "sim".
	Kind string `mapstructure:"kind"`
	// URL is the websocket endpoint for ws feeds.
	URL string `mapstructure:"url"`
	// Subscribe is an optional payload sent after connecting.
	Subscribe string `mapstructure:"subscribe"`
	// Count bounds sim feeds; 0 means unbounded.
	Count int `mapstructure:"count"`
	// SourceID tags events from this feed. Assigned from the feed
	// index when zero.
	SourceID uint16 `mapstructure:"sourceId"`
	// Venue optionally names the venue whose quotes this feed carries.
	Venue string `mapstructure:"venue"`
}

// AuditConfig selects the audit sinks. Empty values disable a sink.
type AuditConfig struct {
	WALDir       string   `mapstructure:"walDir"`
	PostgresDSN  string   `mapstructure:"postgresDsn"`
	KafkaBrokers []string `mapstructure:"kafkaBrokers"`
	KafkaTopic   string   `mapstructure:"kafkaTopic"`
}

// APIConfig describes the HTTP server.
type APIConfig struct {
	ListenAddr string `mapstructure:"listenAddr"`
}

// SnapshotConfig controls exposure snapshot persistence.
type SnapshotConfig struct {
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry          *schema.Registry
	Risk              risk.Config
	RefData           compliance.RefData
	ComplianceRefresh time.Duration
	Strategy          router.Strategy
	Execution         execution.Config
	Pipeline          pipeline.Config
	Ingest            IngestConfig
	AllowInstruments  []schema.InstrumentID
	VenueBySource     map[uint16]schema.VenueID
	Audit             AuditConfig
	API               APIConfig
	Snapshot          SnapshotConfig
}

// Load reads a JSON config file and resolves names to registry IDs.
func Load(path string) (Loaded, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Loaded{}, errors.Wrap(err, "read config")
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "decode config")
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}

	refData, err := buildRefData(cfg.Compliance, registry)
	if err != nil {
		return Loaded{}, err
	}

	allow := make([]schema.InstrumentID, 0, len(cfg.Ingest.Allow))
	for _, name := range cfg.Ingest.Allow {
		id, ok := registry.InstrumentIDByName(name)
		if !ok {
			return Loaded{}, errors.New("unknown instrument in ingest allow list: " + name)
		}
		allow = append(allow, id)
	}

	strategy, ok := router.StrategyByName(cfg.Router.Strategy)
	if !ok {
		return Loaded{}, errors.New("unknown routing strategy: " + cfg.Router.Strategy)
	}

	venueBySource := make(map[uint16]schema.VenueID)
	for i, feed := range cfg.Ingest.Feeds {
		switch feed.Kind {
		case "ws":
			if feed.URL == "" {
				return Loaded{}, errors.New("ws feed needs a url")
			}
		case "sim":
		default:
			return Loaded{}, errors.New("unknown feed kind: " + feed.Kind)
		}
		if feed.SourceID == 0 {
			cfg.Ingest.Feeds[i].SourceID = uint16(i + 1)
		}
		if feed.Venue != "" {
			venueID, ok := registry.VenueIDByName(feed.Venue)
			if !ok {
				return Loaded{}, errors.New("unknown venue for feed: " + feed.Venue)
			}
			venueBySource[cfg.Ingest.Feeds[i].SourceID] = venueID
		}
	}

	refresh := cfg.Compliance.RefreshInterval
	if refresh < 0 {
		return Loaded{}, errors.New("compliance refresh interval must be >= 0")
	}

	return Loaded{
		Registry:          registry,
		Risk:              cfg.Risk,
		RefData:           refData,
		ComplianceRefresh: refresh,
		Strategy:          strategy,
		Execution: execution.Config{
			AckTimeout:    cfg.Execution.AckTimeout,
			QueryTimeout:  cfg.Execution.QueryTimeout,
			TripThreshold: cfg.Execution.TripThreshold,
		},
		Pipeline: pipeline.Config{
			QueueSize: cfg.Pipeline.QueueSize,
			Workers:   cfg.Pipeline.Workers,
		},
		Ingest:           cfg.Ingest,
		AllowInstruments: allow,
		VenueBySource:    venueBySource,
		Audit:            cfg.Audit,
		API:              cfg.API,
		Snapshot:         cfg.Snapshot,
	}, nil
}

// RefDataSource re-reads compliance reference data from the config
// file, so restriction lists can change without a restart.
type RefDataSource struct {
	path string
}

// NewRefDataSource creates a source bound to a config path.
func NewRefDataSource(path string) *RefDataSource {
	return &RefDataSource{path: path}
}

// Fetch reloads the config and returns its compliance section.
func (s *RefDataSource) Fetch(ctx context.Context) (compliance.RefData, error) {
	loaded, err := Load(s.path)
	if err != nil {
		return compliance.RefData{}, err
	}
	return loaded.RefData, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	if len(cfg.Venues) == 0 {
		return nil, errors.New("config defines no venues")
	}
	if len(cfg.Instruments) == 0 {
		return nil, errors.New("config defines no instruments")
	}

	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name, venue.FeeBps); err != nil {
			return nil, errors.Wrap(err, "add venue")
		}
	}
	for _, instrument := range cfg.Instruments {
		scale := schema.ScaleSpec{
			PriceScale:    schema.Scale(instrument.PriceScale),
			QuantityScale: schema.Scale(instrument.QuantityScale),
		}
		if _, err := reg.AddInstrument(instrument.Name, scale); err != nil {
			return nil, errors.Wrap(err, "add instrument")
		}
	}
	for _, client := range cfg.Clients {
		if _, err := reg.AddClient(client.Name, schema.Notional(client.CreditLimit)); err != nil {
			return nil, errors.Wrap(err, "add client")
		}
	}
	return reg, nil
}

func buildRefData(cfg ComplianceConfig, reg *schema.Registry) (compliance.RefData, error) {
	ref := compliance.RefData{
		Restricted:    make(map[schema.InstrumentID]struct{}, len(cfg.Restricted)),
		ShortSaleBans: make(map[schema.InstrumentID]struct{}, len(cfg.ShortSaleBans)),
		MaxOrderQty:   schema.Quantity(cfg.MaxOrderQty),
	}
	for _, name := range cfg.Restricted {
		id, ok := reg.InstrumentIDByName(name)
		if !ok {
			return compliance.RefData{}, errors.New("unknown restricted instrument: " + name)
		}
		ref.Restricted[id] = struct{}{}
	}
	for _, name := range cfg.ShortSaleBans {
		id, ok := reg.InstrumentIDByName(name)
		if !ok {
			return compliance.RefData{}, errors.New("unknown short sale ban instrument: " + name)
		}
		ref.ShortSaleBans[id] = struct{}{}
	}
	return ref, nil
}
