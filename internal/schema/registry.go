package schema

import "fmt"

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=8 means the integer value is scaled by 1e8.
type Scale int32

// ScaleSpec defines scaling for an instrument's numeric fields.
type ScaleSpec struct {
	PriceScale    Scale
	QuantityScale Scale
}

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// InstrumentID is the numeric identifier for an instrument.
type InstrumentID uint32

// ClientID is the numeric identifier for a trading client.
type ClientID uint32

// Venue describes an external trading destination.
type Venue struct {
	ID     VenueID
	Name   string
	FeeBps int64
}

// Instrument describes a tradable instrument.
type Instrument struct {
	ID    InstrumentID
	Name  string
	Scale ScaleSpec
}

// Client describes a trading client and its credit limit.
type Client struct {
	ID          ClientID
	Name        string
	CreditLimit Notional
}

// Registry stores venue, instrument and client mappings in a compact
// append-only form. It is built once at startup and read concurrently.
type Registry struct {
	venues           []Venue
	instruments      []Instrument
	clients          []Client
	venueByName      map[string]VenueID
	instrumentByName map[string]InstrumentID
	clientByName     map[string]ClientID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:      make(map[string]VenueID),
		instrumentByName: make(map[string]InstrumentID),
		clientByName:     make(map[string]ClientID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string, feeBps int64) (VenueID, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if feeBps < 0 {
		return 0, fmt.Errorf("venue fee must be >= 0: %s", name)
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name, FeeBps: feeBps})
	r.venueByName[name] = id
	return id, nil
}

// AddInstrument registers a new instrument and returns its ID.
func (r *Registry) AddInstrument(name string, scale ScaleSpec) (InstrumentID, error) {
	if name == "" {
		return 0, fmt.Errorf("instrument name is empty")
	}
	if scale.PriceScale < 0 || scale.QuantityScale < 0 {
		return 0, fmt.Errorf("scale must be >= 0: %s", name)
	}
	if id, ok := r.instrumentByName[name]; ok {
		return id, fmt.Errorf("instrument already exists: %s", name)
	}
	id := InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, Instrument{ID: id, Name: name, Scale: scale})
	r.instrumentByName[name] = id
	return id, nil
}

// AddClient registers a new client and returns its ID.
func (r *Registry) AddClient(name string, creditLimit Notional) (ClientID, error) {
	if name == "" {
		return 0, fmt.Errorf("client name is empty")
	}
	if creditLimit < 0 {
		return 0, fmt.Errorf("credit limit must be >= 0: %s", name)
	}
	if id, ok := r.clientByName[name]; ok {
		return id, fmt.Errorf("client already exists: %s", name)
	}
	id := ClientID(len(r.clients) + 1)
	r.clients = append(r.clients, Client{ID: id, Name: name, CreditLimit: creditLimit})
	r.clientByName[name] = id
	return id, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// Instrument returns the instrument by ID.
func (r *Registry) Instrument(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// Client returns the client by ID.
func (r *Registry) Client(id ClientID) (Client, bool) {
	if id == 0 || int(id) > len(r.clients) {
		return Client{}, false
	}
	return r.clients[id-1], true
}

// VenueIDByName resolves a venue name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// InstrumentIDByName resolves an instrument name.
func (r *Registry) InstrumentIDByName(name string) (InstrumentID, bool) {
	id, ok := r.instrumentByName[name]
	return id, ok
}

// ClientIDByName resolves a client name.
func (r *Registry) ClientIDByName(name string) (ClientID, bool) {
	id, ok := r.clientByName[name]
	return id, ok
}

// VenueCount returns the number of venues in the registry.
func (r *Registry) VenueCount() int {
	return len(r.venues)
}

// InstrumentCount returns the number of instruments in the registry.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}

// InstrumentAt returns the instrument by zero-based index.
func (r *Registry) InstrumentAt(index int) (Instrument, bool) {
	if index < 0 || index >= len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[index], true
}

// VenueAt returns the venue by zero-based index.
func (r *Registry) VenueAt(index int) (Venue, bool) {
	if index < 0 || index >= len(r.venues) {
		return Venue{}, false
	}
	return r.venues[index], true
}
