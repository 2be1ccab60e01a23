package engine

import (
	"bytes"
	"slices"

	"github.com/israelio/amqp10-go-client/internal/protocol"
)

// Delivery is the unsettled-map record of one delivery
type Delivery struct {
	ID       uint32
	Tag      []byte
	State    protocol.DeliveryState
	Settled  bool // settled locally, awaiting the peer
	Frames   int
	Complete bool
}

// Unsettled tracks deliveries by delivery-id until settlement is observed
type Unsettled struct {
	records map[uint32]*Delivery
}

// NewUnsettled creates an empty unsettled map
func NewUnsettled() *Unsettled {
	return &Unsettled{records: make(map[uint32]*Delivery)}
}

// Add records a delivery; the id must not already be tracked
func (u *Unsettled) Add(d *Delivery) bool {
	if _, ok := u.records[d.ID]; ok {
		return false
	}
	u.records[d.ID] = d
	return true
}

// Get returns the record for an id
func (u *Unsettled) Get(id uint32) (*Delivery, bool) {
	d, ok := u.records[id]
	return d, ok
}

// Settle removes and returns the record for an id
func (u *Unsettled) Settle(id uint32) (*Delivery, bool) {
	d, ok := u.records[id]
	if ok {
		delete(u.records, id)
	}
	return d, ok
}

// HasTag reports whether a tracked delivery carries tag
func (u *Unsettled) HasTag(tag []byte) bool {
	for _, d := range u.records {
		if bytes.Equal(d.Tag, tag) {
			return true
		}
	}
	return false
}

// Len returns the number of unsettled deliveries
func (u *Unsettled) Len() int {
	return len(u.records)
}

// IDs returns the tracked delivery ids in ascending order
func (u *Unsettled) IDs() []uint32 {
	ids := make([]uint32, 0, len(u.records))
	for id := range u.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clear drops every record
func (u *Unsettled) Clear() {
	clear(u.records)
}
