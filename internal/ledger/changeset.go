package ledger

import "Tally/internal/address"

// write is one pending slot write.
type write struct {
	addr   address.Address
	data   []byte
	create bool
}

// Changeset collects the writes of one handler invocation.
// Nothing is visible until Ledger.Commit applies the whole set.
type Changeset struct {
	writes []write
}

// Create schedules a write that fails the commit if addr is occupied.
func (c *Changeset) Create(addr address.Address, data []byte) {
	c.writes = append(c.writes, write{addr: addr, data: data, create: true})
}

// Update schedules an unconditional write to addr.
func (c *Changeset) Update(addr address.Address, data []byte) {
	c.writes = append(c.writes, write{addr: addr, data: data})
}

// Len returns the number of pending writes.
func (c *Changeset) Len() int {
	return len(c.writes)
}
