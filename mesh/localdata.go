package mesh

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chrisrichardson/dolfinx/mpi"
)

// Errors returned by the distribution protocol.
var (
	// ErrAlreadyDistributed is returned when extraction is attempted on a
	// mesh that is not fully resident on the calling process. The protocol
	// only covers the initial single-process-to-many distribution, never
	// re-partitioning of an already distributed mesh.
	ErrAlreadyDistributed = errors.New("mesh is already distributed")

	// ErrMissingMesh is returned when the broadcasting process calls
	// Distribute without a mesh.
	ErrMissingMesh = errors.New("broadcasting process has no mesh to distribute")
)

// LocalData is the process-local shard of a distributed mesh: the vertex
// coordinates and global vertex indices in this process's vertex range,
// the connectivity rows of the cells in its cell range (still referencing
// global vertex indices), and the global totals. A LocalData is owned
// exclusively by the process holding it.
type LocalData struct {
	GeometricDim   int
	TopologicalDim int

	VertexCoordinates [][]float64 // coordinate tuples of the local vertices
	VertexIndices     []int       // global indices, parallel to VertexCoordinates
	CellVertices      [][]int     // global vertex indices of the local cells

	NumGlobalVertices int
	NumGlobalCells    int
}

// NumLocalVertices returns the number of vertices in the shard.
func (d *LocalData) NumLocalVertices() int { return len(d.VertexIndices) }

// NumLocalCells returns the number of cells in the shard.
func (d *LocalData) NumLocalCells() int { return len(d.CellVertices) }

// Clear resets the shard to the empty state: all sequences empty, both
// global counts and both dimensions zero. Clear is idempotent. It is used
// before re-extraction or to recover from a failed partial fill.
func (d *LocalData) Clear() {
	*d = LocalData{}
}

// Option configures a distribution round.
type Option func(*config)

type config struct {
	logger *zap.Logger
}

// WithLogger sets the logger used to report distribution progress.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Distribute splits a mesh fully resident on the broadcasting process
// (rank 0) into per-process shards. On rank 0 the full mesh is extracted
// and every rank is shipped the slice of vertices and cells its ownership
// ranges select; on every other rank full is ignored (and may be nil) and
// the call blocks until the local shard arrives. Distribute is a
// collective: every process must call it, and none may proceed assuming
// global data until it returns.
//
// Distribute fails with mpi.ErrCommunicationUnavailable when no true
// communication substrate is available, and with ErrAlreadyDistributed
// when the mesh on rank 0 is itself a shard.
func Distribute(full *Mesh, opts ...Option) (*LocalData, error) {
	comm := mpi.NewComm()
	defer comm.Free()
	return DistributeOn(comm, full, opts...)
}

// DistributeOn runs the distribution protocol over an explicit channel.
// Most callers should use Distribute.
func DistributeOn(comm *mpi.Comm, full *Mesh, opts ...Option) (*LocalData, error) {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	size := comm.Size()
	if size < 2 {
		return nil, fmt.Errorf("%w: mesh distribution requires a process group", mpi.ErrCommunicationUnavailable)
	}

	if comm.Rank() == 0 {
		return broadcastMeshData(comm, full, cfg.logger)
	}
	return receiveMeshData(comm, cfg.logger)
}

// extractMeshData pulls the per-entity arrays out of a fully resident
// mesh: the coordinate tuple and global index of every vertex, and the
// global vertex indices of every cell in mesh-native ordering.
func extractMeshData(full *Mesh) (*LocalData, error) {
	if full == nil {
		return nil, ErrMissingMesh
	}
	if full.Distributed() {
		return nil, ErrAlreadyDistributed
	}

	d := &LocalData{
		GeometricDim:      full.GeometricDim(),
		TopologicalDim:    full.TopologicalDim(),
		NumGlobalVertices: full.NumVertices(),
		NumGlobalCells:    full.NumCells(),
	}

	d.VertexCoordinates = make([][]float64, 0, full.NumVertices())
	d.VertexIndices = make([]int, 0, full.NumVertices())
	for v := 0; v < full.NumVertices(); v++ {
		d.VertexCoordinates = append(d.VertexCoordinates, full.VertexCoordinates(v))
		d.VertexIndices = append(d.VertexIndices, v)
	}

	d.CellVertices = make([][]int, 0, full.NumCells())
	for c := 0; c < full.NumCells(); c++ {
		d.CellVertices = append(d.CellVertices, full.CellVertices(c))
	}
	return d, nil
}

// broadcastMeshData extracts the full mesh on the broadcaster, computes
// every rank's vertex and cell ranges, and ships each rank its shard.
func broadcastMeshData(comm *mpi.Comm, full *Mesh, logger *zap.Logger) (*LocalData, error) {
	extracted, err := extractMeshData(full)
	if err != nil {
		return nil, err
	}
	size := comm.Size()
	logger.Info("distributing mesh",
		zap.Int("vertices", extracted.NumGlobalVertices),
		zap.Int("cells", extracted.NumGlobalCells),
		zap.Int("processes", size),
	)

	var g errgroup.Group
	for k := 0; k < size; k++ {
		shard := shardFor(extracted, k, size)
		logger.Debug("shipping shard",
			zap.Int("rank", k),
			zap.Int("vertices", shard.NumLocalVertices()),
			zap.Int("cells", shard.NumLocalCells()),
		)
		g.Go(func() error { return comm.Send(shard, k, mpi.TagMeshData) })
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", mpi.ErrCommunicationFailure, err)
	}

	local := new(LocalData)
	if err := comm.Receive(local, 0, mpi.TagMeshData); err != nil {
		return nil, fmt.Errorf("%w: %w", mpi.ErrCommunicationFailure, err)
	}
	for k := 0; k < size; k++ {
		if err := comm.Wait(k, mpi.TagMeshData); err != nil {
			return nil, fmt.Errorf("%w: %w", mpi.ErrCommunicationFailure, err)
		}
	}
	return local, nil
}

// shardFor slices the extracted mesh data down to the shard owned by the
// given rank: its vertex range over the vertex index space and its cell
// range over the cell index space, computed independently.
func shardFor(extracted *LocalData, rank, size int) *LocalData {
	vFirst, vLast := mpi.LocalRangeOn(rank, size, extracted.NumGlobalVertices)
	cFirst, cLast := mpi.LocalRangeOn(rank, size, extracted.NumGlobalCells)
	return &LocalData{
		GeometricDim:      extracted.GeometricDim,
		TopologicalDim:    extracted.TopologicalDim,
		VertexCoordinates: extracted.VertexCoordinates[vFirst:vLast],
		VertexIndices:     extracted.VertexIndices[vFirst:vLast],
		CellVertices:      extracted.CellVertices[cFirst:cLast],
		NumGlobalVertices: extracted.NumGlobalVertices,
		NumGlobalCells:    extracted.NumGlobalCells,
	}
}

// receiveMeshData blocks until the local shard arrives from the
// broadcaster and materializes it.
func receiveMeshData(comm *mpi.Comm, logger *zap.Logger) (*LocalData, error) {
	local := new(LocalData)
	if err := comm.Receive(local, 0, mpi.TagMeshData); err != nil {
		return nil, fmt.Errorf("%w: %w", mpi.ErrCommunicationFailure, err)
	}
	logger.Debug("received shard",
		zap.Int("rank", comm.Rank()),
		zap.Int("vertices", local.NumLocalVertices()),
		zap.Int("cells", local.NumLocalCells()),
	)
	return local, nil
}
