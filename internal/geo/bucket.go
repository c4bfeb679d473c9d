package geo

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// DefaultCellScale quantizes coordinates to 0.01 degree cells, roughly 1.1 km at the equator.
const DefaultCellScale = 100

// ErrMalformedLocation indicates coordinates outside the valid WGS84 range.
var ErrMalformedLocation = errors.New("geo: malformed location")

// CellKey identifies one quantized grid cell.
type CellKey struct {
	X int64
	Y int64
}

// String renders the key in the wire format used by location channels.
func (k CellKey) String() string {
	return fmt.Sprintf("location:%d_%d", k.X, k.Y)
}

// ValidateCoordinates rejects latitudes or longitudes outside the WGS84 range.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return fmt.Errorf("%w: not a number", ErrMalformedLocation)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrMalformedLocation, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrMalformedLocation, lng)
	}
	return nil
}

// BucketIndex tracks live subscriber membership per quantized grid cell.
// A connection occupies at most one cell at a time; joining a new cell
// replaces any previous membership.
type BucketIndex struct {
	scale float64

	mu      sync.RWMutex
	cells   map[CellKey]map[string]struct{}
	belongs map[string]CellKey
}

// NewBucketIndex constructs an index with the provided quantization scale.
// A non-positive scale falls back to DefaultCellScale.
func NewBucketIndex(scale int) *BucketIndex {
	if scale <= 0 {
		scale = DefaultCellScale
	}
	return &BucketIndex{
		scale:   float64(scale),
		cells:   make(map[CellKey]map[string]struct{}),
		belongs: make(map[string]CellKey),
	}
}

// CellFor quantizes a coordinate into its cell key. Pure and deterministic.
func (b *BucketIndex) CellFor(lat, lng float64) CellKey {
	return CellKey{
		X: int64(math.Floor(lat * b.scale)),
		Y: int64(math.Floor(lng * b.scale)),
	}
}

// Join subscribes the connection to the cell containing the coordinate and
// returns the cell key with its resulting member count. Stale membership in
// any other cell is removed first.
func (b *BucketIndex) Join(connectionID string, lat, lng float64) (CellKey, int, error) {
	if connectionID == "" {
		return CellKey{}, 0, fmt.Errorf("%w: empty connection id", ErrMalformedLocation)
	}
	if err := ValidateCoordinates(lat, lng); err != nil {
		return CellKey{}, 0, err
	}
	key := b.CellFor(lat, lng)

	b.mu.Lock()
	defer b.mu.Unlock()

	if previous, ok := b.belongs[connectionID]; ok && previous != key {
		b.removeLocked(previous, connectionID)
	}
	members, ok := b.cells[key]
	if !ok {
		members = make(map[string]struct{})
		b.cells[key] = members
	}
	members[connectionID] = struct{}{}
	b.belongs[connectionID] = key
	return key, len(members), nil
}

// Leave unsubscribes the connection from the cell containing the coordinate.
// Absent membership is a no-op.
func (b *BucketIndex) Leave(connectionID string, lat, lng float64) error {
	if err := ValidateCoordinates(lat, lng); err != nil {
		return err
	}
	key := b.CellFor(lat, lng)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.removeLocked(key, connectionID)
	if current, ok := b.belongs[connectionID]; ok && current == key {
		delete(b.belongs, connectionID)
	}
	return nil
}

// Drop removes every membership held by the connection. Called on disconnect.
func (b *BucketIndex) Drop(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key, ok := b.belongs[connectionID]
	if !ok {
		return
	}
	b.removeLocked(key, connectionID)
	delete(b.belongs, connectionID)
}

// MembersNear returns the connections subscribed to the single cell
// containing the coordinate. Neighboring cells are deliberately not
// expanded: a coordinate near a cell boundary does not reach subscribers
// in the adjacent cell.
func (b *BucketIndex) MembersNear(lat, lng float64) []string {
	if ValidateCoordinates(lat, lng) != nil {
		return nil
	}
	return b.Members(b.CellFor(lat, lng))
}

// Members returns the connections subscribed to the given cell.
func (b *BucketIndex) Members(key CellKey) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	members := b.cells[key]
	if len(members) == 0 {
		return nil
	}
	out := make([]string, 0, len(members))
	for connectionID := range members {
		out = append(out, connectionID)
	}
	return out
}

func (b *BucketIndex) removeLocked(key CellKey, connectionID string) {
	members := b.cells[key]
	if members == nil {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(b.cells, key)
	}
}
