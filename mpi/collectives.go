package mpi

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Tags reserved for the collective operations, kept well away from the tag
// space application point-to-point traffic is expected to use. All
// processes invoke collectives in the same relative order, so one tag per
// operation cannot collide with itself across consecutive calls.
const (
	tagScatter = 1<<30 + iota
	tagScatterSlices
	tagAllGather
	tagSendRecv
	tagMeshData
)

// TagMeshData is the reserved tag on which mesh shards are shipped during
// distribution.
const TagMeshData = tagMeshData

// Scatter distributes one value per process from sendingProcess: the k-th
// element of values is delivered to rank k, and the local element is
// returned. On the sending process the length of values must equal the
// number of processes, else the call fails with ErrSizeMismatch; on all
// other processes values is ignored and may be nil. Scatter is a
// collective: every process must call it, in the same relative order as
// its other collectives.
func Scatter(values []int, sendingProcess int) (int, error) {
	comm := NewComm()
	defer comm.Free()
	return comm.Scatter(values, sendingProcess)
}

// ScatterSlices distributes one variable-length row per process from
// sendingProcess: rank k receives values[k] whole, with its length intact.
// The size precondition on the sending process matches Scatter.
func ScatterSlices(values [][]int, sendingProcess int) ([]int, error) {
	comm := NewComm()
	defer comm.Free()
	return comm.ScatterSlices(values, sendingProcess)
}

// AllGather collects one value from every process: slot k of the returned
// slice holds rank k's value, and every process receives the identical
// slice contents. AllGather is a collective.
func AllGather(value int) ([]int, error) {
	comm := NewComm()
	defer comm.Free()
	return comm.AllGather(value)
}

// GlobalMax reduces the local values with the maximum operator; every
// process receives the identical maximum. GlobalMax is a collective.
func GlobalMax(value int) (int, error) {
	comm := NewComm()
	defer comm.Free()
	return comm.GlobalMax(value)
}

// SendRecvInts sends a slice to dest while receiving one from source in a
// single non-deadlocking exchange; dest and source may be distinct ranks or
// the local rank itself. The number of received values is the length of the
// returned slice, at most recvCapacity: a larger incoming message fails
// with ErrCommunicationFailure rather than truncating.
func SendRecvInts(send []int, dest, recvCapacity, source int) ([]int, error) {
	comm := NewComm()
	defer comm.Free()
	return comm.SendRecvInts(send, dest, recvCapacity, source)
}

// SendRecvFloat64s is the real-valued variant of SendRecvInts.
func SendRecvFloat64s(send []float64, dest, recvCapacity, source int) ([]float64, error) {
	comm := NewComm()
	defer comm.Free()
	return comm.SendRecvFloat64s(send, dest, recvCapacity, source)
}

// Scatter distributes one value per process over the channel. See the
// package-level Scatter.
func (c *Comm) Scatter(values []int, sendingProcess int) (int, error) {
	m := c.m
	rank, size := m.Rank(), m.Size()
	if rank == sendingProcess {
		if len(values) != size {
			return 0, fmt.Errorf("%w: %d values for %d processes", ErrSizeMismatch, len(values), size)
		}
		var g errgroup.Group
		for k := 0; k < size; k++ {
			g.Go(func() error { return m.Send(values[k], k, tagScatter) })
		}
		if err := g.Wait(); err != nil {
			return 0, err
		}
	}

	var value int
	if err := m.Receive(&value, sendingProcess, tagScatter); err != nil {
		return 0, err
	}

	if rank == sendingProcess {
		for k := 0; k < size; k++ {
			if err := m.Wait(k, tagScatter); err != nil {
				return 0, err
			}
		}
	}
	return value, nil
}

// ScatterSlices distributes one variable-length row per process over the
// channel. See the package-level ScatterSlices.
func (c *Comm) ScatterSlices(values [][]int, sendingProcess int) ([]int, error) {
	m := c.m
	rank, size := m.Rank(), m.Size()
	if rank == sendingProcess {
		if len(values) != size {
			return nil, fmt.Errorf("%w: %d rows for %d processes", ErrSizeMismatch, len(values), size)
		}
		var g errgroup.Group
		for k := 0; k < size; k++ {
			g.Go(func() error { return m.Send(values[k], k, tagScatterSlices) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var row []int
	if err := m.Receive(&row, sendingProcess, tagScatterSlices); err != nil {
		return nil, err
	}

	if rank == sendingProcess {
		for k := 0; k < size; k++ {
			if err := m.Wait(k, tagScatterSlices); err != nil {
				return nil, err
			}
		}
	}
	return row, nil
}

// AllGather collects one value from every process over the channel. See
// the package-level AllGather.
func (c *Comm) AllGather(value int) ([]int, error) {
	m := c.m
	size := m.Size()

	// Every process sends its value to all processes, itself included.
	// The send to self completes before the receives begin.
	var sends errgroup.Group
	for k := 0; k < size; k++ {
		sends.Go(func() error { return m.Send(value, k, tagAllGather) })
	}
	if err := sends.Wait(); err != nil {
		return nil, err
	}

	gathered := make([]int, size)
	var recvs errgroup.Group
	for k := 0; k < size; k++ {
		recvs.Go(func() error { return m.Receive(&gathered[k], k, tagAllGather) })
	}
	if err := recvs.Wait(); err != nil {
		return nil, err
	}

	for k := 0; k < size; k++ {
		if err := m.Wait(k, tagAllGather); err != nil {
			return nil, err
		}
	}
	return gathered, nil
}

// GlobalMax reduces with the maximum operator over the channel. See the
// package-level GlobalMax.
func (c *Comm) GlobalMax(value int) (int, error) {
	gathered, err := c.AllGather(value)
	if err != nil {
		return 0, err
	}
	max := gathered[0]
	for _, v := range gathered[1:] {
		if v > max {
			max = v
		}
	}
	return max, nil
}

// SendRecvInts performs a paired exchange over the channel. See the
// package-level SendRecvInts.
func (c *Comm) SendRecvInts(send []int, dest, recvCapacity, source int) ([]int, error) {
	return sendRecv(c.m, send, dest, recvCapacity, source)
}

// SendRecvFloat64s performs a paired exchange over the channel. See the
// package-level SendRecvFloat64s.
func (c *Comm) SendRecvFloat64s(send []float64, dest, recvCapacity, source int) ([]float64, error) {
	return sendRecv(c.m, send, dest, recvCapacity, source)
}

func sendRecv[T int | float64](m Mpi, send []T, dest, recvCapacity, source int) ([]T, error) {
	rank := m.Rank()

	// A send to self must be buffered before the matching receive starts;
	// sends to other ranks run concurrently with the receive so that
	// pairwise exchanges cannot deadlock.
	if dest == rank {
		if err := m.Send(send, dest, tagSendRecv); err != nil {
			return nil, err
		}
	}

	var recv []T
	var g errgroup.Group
	if dest != rank {
		g.Go(func() error { return m.Send(send, dest, tagSendRecv) })
	}
	g.Go(func() error { return m.Receive(&recv, source, tagSendRecv) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := m.Wait(dest, tagSendRecv); err != nil {
		return nil, err
	}

	if len(recv) > recvCapacity {
		return nil, fmt.Errorf("%w: received %d values, capacity %d", ErrCommunicationFailure, len(recv), recvCapacity)
	}
	return recv, nil
}
