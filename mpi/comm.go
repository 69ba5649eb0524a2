package mpi

// Comm is a scoped communication channel, a short-lived duplicate of the
// process group's communication context. Every collective operation below
// acquires a Comm for its duration and releases it on every exit path;
// callers using Comm directly should do the same and must not assume a
// Comm instance is reused across calls.
type Comm struct {
	m Mpi
}

// NewComm duplicates the registered communication context.
func NewComm() *Comm {
	return &Comm{m: mpier}
}

// NewCommOn duplicates the communication context of an explicit backend.
// This is mainly useful when several backend instances live in one process,
// as in the package tests.
func NewCommOn(m Mpi) *Comm {
	return &Comm{m: m}
}

// Free releases the channel. Using the Comm after Free panics.
func (c *Comm) Free() {
	c.m = nil
}

// Rank returns the rank of the local process within the channel.
func (c *Comm) Rank() int { return c.m.Rank() }

// Size returns the number of processes within the channel.
func (c *Comm) Size() int { return c.m.Size() }

// Send transmits data to destination over the channel. See the
// package-level Send.
func (c *Comm) Send(data interface{}, destination, tag int) error {
	return c.m.Send(data, destination, tag)
}

// Wait blocks until destination confirms receipt of the tagged data. See
// the package-level Wait.
func (c *Comm) Wait(destination, tag int) error {
	return c.m.Wait(destination, tag)
}

// Receive reads tagged data from source over the channel. See the
// package-level Receive.
func (c *Comm) Receive(data interface{}, source, tag int) error {
	return c.m.Receive(data, source, tag)
}
