package mesh

import (
	"net"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/chrisrichardson/dolfinx/mpi"
)

// newCluster starts size mpi.Network instances inside the test process,
// connected all-to-all over loopback TCP and ordered by rank.
func newCluster(t *testing.T, size int) []*mpi.Network {
	t.Helper()

	addrs := make([]string, size)
	for i := range addrs {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addrs[i] = l.Addr().String()
		require.NoError(t, l.Close())
	}
	sort.Strings(addrs)

	nets := make([]*mpi.Network, size)
	var g errgroup.Group
	for i := range nets {
		nets[i] = &mpi.Network{
			NetProto: "tcp",
			Addr:     addrs[i],
			Addrs:    append([]string(nil), addrs...),
			Timeout:  30 * time.Second,
		}
		g.Go(nets[i].Init)
	}
	require.NoError(t, g.Wait())

	t.Cleanup(func() {
		for _, n := range nets {
			n.Finalize()
		}
	})
	return nets
}

// tenVertexMesh builds a 2D mesh with 10 vertices and 6 triangle cells.
func tenVertexMesh() *Mesh {
	m := New(2, 2)
	for i := 0; i < 10; i++ {
		m.AddVertex(float64(i), float64(i%3))
	}
	m.AddCell(0, 1, 2)
	m.AddCell(1, 2, 3)
	m.AddCell(2, 3, 4)
	m.AddCell(4, 5, 6)
	m.AddCell(5, 6, 7)
	m.AddCell(7, 8, 9)
	return m
}

func TestExtractMeshData(t *testing.T) {
	full := UnitSquare(2, 2)
	d, err := extractMeshData(full)
	require.NoError(t, err)

	require.Equal(t, 2, d.GeometricDim)
	require.Equal(t, 2, d.TopologicalDim)
	require.Equal(t, 9, d.NumGlobalVertices)
	require.Equal(t, 8, d.NumGlobalCells)
	require.Equal(t, 9, d.NumLocalVertices())
	require.Equal(t, 8, d.NumLocalCells())
	for i, idx := range d.VertexIndices {
		require.Equal(t, i, idx)
	}
}

func TestExtractMeshDataPreconditions(t *testing.T) {
	_, err := extractMeshData(nil)
	require.ErrorIs(t, err, ErrMissingMesh)

	full := UnitInterval(3)
	full.distributed = true
	_, err = extractMeshData(full)
	require.ErrorIs(t, err, ErrAlreadyDistributed)
}

func TestClearIdempotent(t *testing.T) {
	d, err := extractMeshData(UnitInterval(4))
	require.NoError(t, err)
	require.NotZero(t, d.NumGlobalVertices)

	empty := LocalData{}
	d.Clear()
	require.Equal(t, empty, *d)
	d.Clear()
	require.Equal(t, empty, *d)
}

func TestDistributeRoundTrip(t *testing.T) {
	nets := newCluster(t, 2)
	full := tenVertexMesh()

	shards := make([]*LocalData, 2)
	var g errgroup.Group
	for i, n := range nets {
		g.Go(func() error {
			comm := mpi.NewCommOn(n)
			defer comm.Free()

			var in *Mesh
			if i == 0 {
				in = full
			}
			d, err := DistributeOn(comm, in)
			if err != nil {
				return err
			}
			shards[i] = d
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[int]int)
	for rank, d := range shards {
		require.Equal(t, 2, d.GeometricDim)
		require.Equal(t, 2, d.TopologicalDim)
		require.Equal(t, 10, d.NumGlobalVertices)
		require.Equal(t, 6, d.NumGlobalCells)

		// Shard sizes match the ownership ranges
		vFirst, vLast := mpi.LocalRangeOn(rank, 2, 10)
		cFirst, cLast := mpi.LocalRangeOn(rank, 2, 6)
		require.Equal(t, vLast-vFirst, d.NumLocalVertices())
		require.Equal(t, cLast-cFirst, d.NumLocalCells())

		// Vertex data is the contiguous slice of the full mesh
		for i, idx := range d.VertexIndices {
			require.Equal(t, vFirst+i, idx)
			require.Equal(t, full.VertexCoordinates(idx), d.VertexCoordinates[i])
			seen[idx]++
		}

		// Connectivity rows still reference global vertex indices
		for i, vs := range d.CellVertices {
			require.Equal(t, full.CellVertices(cFirst+i), vs)
		}
	}

	// The union of the shards' global vertex indices reconstructs the
	// original set with no omissions or duplicates
	require.Len(t, seen, 10)
	for idx, count := range seen {
		require.Equal(t, 1, count, "vertex %d", idx)
	}
}

func TestDistributeThreeRanks(t *testing.T) {
	nets := newCluster(t, 3)
	full := UnitSquare(2, 2) // 9 vertices, 8 cells

	shards := make([]*LocalData, 3)
	var g errgroup.Group
	for i, n := range nets {
		g.Go(func() error {
			comm := mpi.NewCommOn(n)
			defer comm.Free()

			var in *Mesh
			if i == 0 {
				in = full
			}
			d, err := DistributeOn(comm, in)
			if err != nil {
				return err
			}
			shards[i] = d
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// 9 vertices over 3 ranks: 3 each. 8 cells over 3 ranks: 3, 3, 2.
	require.Equal(t, []int{3, 3, 3}, []int{
		shards[0].NumLocalVertices(), shards[1].NumLocalVertices(), shards[2].NumLocalVertices(),
	})
	require.Equal(t, []int{3, 3, 2}, []int{
		shards[0].NumLocalCells(), shards[1].NumLocalCells(), shards[2].NumLocalCells(),
	})
}

func TestDistributeUnavailableOnSerial(t *testing.T) {
	comm := mpi.NewCommOn(&mpi.Serial{})
	defer comm.Free()

	_, err := DistributeOn(comm, UnitInterval(3))
	require.ErrorIs(t, err, mpi.ErrCommunicationUnavailable)
}

func TestDistributeAlreadyDistributed(t *testing.T) {
	nets := newCluster(t, 2)

	full := UnitInterval(3)
	full.distributed = true

	// The broadcaster fails its precondition before any communication,
	// so the other rank does not participate.
	comm := mpi.NewCommOn(nets[0])
	defer comm.Free()
	_, err := DistributeOn(comm, full)
	require.ErrorIs(t, err, ErrAlreadyDistributed)
}

func TestDistributeMissingMeshOnBroadcaster(t *testing.T) {
	nets := newCluster(t, 2)

	comm := mpi.NewCommOn(nets[0])
	defer comm.Free()
	_, err := DistributeOn(comm, nil)
	require.ErrorIs(t, err, ErrMissingMesh)
}
