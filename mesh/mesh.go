// Package mesh provides a simple simplicial mesh container and the
// protocol that turns a mesh built entirely on one process into
// process-local shards suitable for distributed assembly.
//
// A Mesh is built on a single process, vertex by vertex and cell by cell,
// or with one of the structured generators (UnitInterval, UnitSquare).
// Distribute then splits it into LocalData shards, one per process, using
// the contiguous balanced ownership ranges of the mpi package: rank k
// receives the coordinates and global indices of the vertices in its
// vertex range and the connectivity rows of the cells in its cell range,
// with connectivity still referencing global vertex indices.
package mesh

import "fmt"

// Mesh is a full, non-distributed mesh resident on a single process.
// Vertices are identified by their global index, which is their insertion
// order. Cells reference their incident vertices by global index.
type Mesh struct {
	gdim int
	tdim int

	coordinates [][]float64 // per-vertex coordinate tuples, gdim each
	cells       [][]int     // per-cell global vertex indices

	distributed bool
}

// New returns an empty mesh with the given geometric and topological
// dimensions.
func New(gdim, tdim int) *Mesh {
	return &Mesh{gdim: gdim, tdim: tdim}
}

// GeometricDim returns the dimension of the coordinate space.
func (m *Mesh) GeometricDim() int { return m.gdim }

// TopologicalDim returns the dimension of the cells.
func (m *Mesh) TopologicalDim() int { return m.tdim }

// NumVertices returns the number of vertices in the mesh.
func (m *Mesh) NumVertices() int { return len(m.coordinates) }

// NumCells returns the number of cells in the mesh.
func (m *Mesh) NumCells() int { return len(m.cells) }

// Distributed reports whether the mesh is a shard of a larger distributed
// mesh rather than a fully resident one.
func (m *Mesh) Distributed() bool { return m.distributed }

// AddVertex appends a vertex and returns its global index. The number of
// coordinates must equal the geometric dimension.
func (m *Mesh) AddVertex(x ...float64) int {
	if len(x) != m.gdim {
		panic(fmt.Sprintf("mesh: vertex has %d coordinates, geometric dimension is %d", len(x), m.gdim))
	}
	m.coordinates = append(m.coordinates, x)
	return len(m.coordinates) - 1
}

// AddCell appends a cell given the global indices of its vertices and
// returns the cell index.
func (m *Mesh) AddCell(vertices ...int) int {
	for _, v := range vertices {
		if v < 0 || v >= len(m.coordinates) {
			panic(fmt.Sprintf("mesh: cell references unknown vertex %d", v))
		}
	}
	m.cells = append(m.cells, vertices)
	return len(m.cells) - 1
}

// VertexCoordinates returns the coordinate tuple of the vertex with the
// given global index. The returned slice is owned by the mesh.
func (m *Mesh) VertexCoordinates(index int) []float64 {
	return m.coordinates[index]
}

// CellVertices returns the global vertex indices of the given cell. The
// returned slice is owned by the mesh.
func (m *Mesh) CellVertices(cell int) []int {
	return m.cells[cell]
}

// UnitInterval returns a mesh of the unit interval [0, 1] with n equal
// cells and n+1 vertices.
func UnitInterval(n int) *Mesh {
	if n < 1 {
		panic("mesh: number of cells must be positive")
	}
	m := New(1, 1)
	for i := 0; i <= n; i++ {
		m.AddVertex(float64(i) / float64(n))
	}
	for i := 0; i < n; i++ {
		m.AddCell(i, i+1)
	}
	return m
}

// UnitSquare returns a triangulated mesh of the unit square [0, 1] x
// [0, 1] with nx by ny rectangles, each split into two triangles:
// (nx+1)*(ny+1) vertices and 2*nx*ny cells.
func UnitSquare(nx, ny int) *Mesh {
	if nx < 1 || ny < 1 {
		panic("mesh: number of cells in each direction must be positive")
	}
	m := New(2, 2)
	for iy := 0; iy <= ny; iy++ {
		for ix := 0; ix <= nx; ix++ {
			m.AddVertex(float64(ix)/float64(nx), float64(iy)/float64(ny))
		}
	}
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			v0 := iy*(nx+1) + ix
			v1 := v0 + 1
			v2 := v0 + nx + 1
			v3 := v2 + 1
			m.AddCell(v0, v1, v3)
			m.AddCell(v0, v3, v2)
		}
	}
	return m
}
