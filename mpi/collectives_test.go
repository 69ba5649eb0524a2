package mpi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestScatterOneValuePerProcess(t *testing.T) {
	nets := newTestCluster(t, 3)
	values := []int{10, 20, 30}

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		var in []int
		if rank == 0 {
			in = values
		}
		got, err := comm.Scatter(in, 0)
		if err != nil {
			return err
		}
		require.Equal(t, values[rank], got)
		return nil
	})
}

func TestScatterFromNonZeroRoot(t *testing.T) {
	nets := newTestCluster(t, 3)
	values := []int{7, 8, 9}

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		var in []int
		if rank == 2 {
			in = values
		}
		got, err := comm.Scatter(in, 2)
		if err != nil {
			return err
		}
		require.Equal(t, values[rank], got)
		return nil
	})
}

func TestScatterSizeMismatch(t *testing.T) {
	nets := newTestCluster(t, 2)

	// The sending process fails before any communication, so the other
	// rank does not participate.
	comm := NewCommOn(nets[0])
	defer comm.Free()
	_, err := comm.Scatter([]int{1, 2, 3}, 0)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestScatterSlicesRaggedRows(t *testing.T) {
	nets := newTestCluster(t, 3)
	rows := [][]int{{1}, {2, 3, 4}, {}}

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		var in [][]int
		if rank == 0 {
			in = rows
		}
		got, err := comm.ScatterSlices(in, 0)
		if err != nil {
			return err
		}
		if len(rows[rank]) == 0 {
			require.Empty(t, got)
		} else {
			require.Equal(t, rows[rank], got)
		}
		return nil
	})
}

func TestScatterSlicesSizeMismatch(t *testing.T) {
	nets := newTestCluster(t, 2)

	comm := NewCommOn(nets[0])
	defer comm.Free()
	_, err := comm.ScatterSlices([][]int{{1}}, 0)
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestAllGatherEveryRankSeesAll(t *testing.T) {
	nets := newTestCluster(t, 4)

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		got, err := comm.AllGather(rank)
		if err != nil {
			return err
		}
		require.Equal(t, []int{0, 1, 2, 3}, got)
		return nil
	})
}

func TestGlobalMax(t *testing.T) {
	nets := newTestCluster(t, 3)

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		got, err := comm.GlobalMax(rank * rank)
		if err != nil {
			return err
		}
		require.Equal(t, 4, got)
		return nil
	})
}

func TestSendRecvIntsRingExchange(t *testing.T) {
	nets := newTestCluster(t, 3)
	size := len(nets)

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		dest := (rank + 1) % size
		source := (rank - 1 + size) % size
		got, err := comm.SendRecvInts([]int{rank, rank * 10}, dest, 2, source)
		if err != nil {
			return err
		}
		require.Equal(t, []int{source, source * 10}, got)
		return nil
	})
}

func TestSendRecvFloat64sPairExchange(t *testing.T) {
	nets := newTestCluster(t, 2)

	onAllRanks(t, nets, func(rank int, comm *Comm) error {
		other := 1 - rank
		got, err := comm.SendRecvFloat64s([]float64{float64(rank) + 0.5}, other, 1, other)
		if err != nil {
			return err
		}
		require.Equal(t, []float64{float64(other) + 0.5}, got)
		return nil
	})
}

func TestSendRecvSelf(t *testing.T) {
	nets := newTestCluster(t, 1)

	comm := NewCommOn(nets[0])
	defer comm.Free()
	got, err := comm.SendRecvInts([]int{42}, 0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, []int{42}, got)
}

func TestSendRecvCapacityExceeded(t *testing.T) {
	nets := newTestCluster(t, 2)

	var g errgroup.Group
	for i, n := range nets {
		g.Go(func() error {
			comm := NewCommOn(n)
			defer comm.Free()
			_, err := comm.SendRecvInts([]int{1, 2, 3}, 1-i, 1, 1-i)
			require.ErrorIs(t, err, ErrCommunicationFailure)
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestCollectivesUnavailableOnSerial(t *testing.T) {
	comm := NewCommOn(&Serial{})
	defer comm.Free()

	_, err := comm.Scatter([]int{1}, 0)
	require.ErrorIs(t, err, ErrCommunicationUnavailable)

	_, err = comm.ScatterSlices([][]int{{1}}, 0)
	require.ErrorIs(t, err, ErrCommunicationUnavailable)

	_, err = comm.AllGather(1)
	require.ErrorIs(t, err, ErrCommunicationUnavailable)

	_, err = comm.GlobalMax(1)
	require.ErrorIs(t, err, ErrCommunicationUnavailable)

	_, err = comm.SendRecvInts([]int{1}, 0, 1, 0)
	require.ErrorIs(t, err, ErrCommunicationUnavailable)
}
