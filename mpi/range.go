package mpi

import "fmt"

// LocalRange returns the half-open range [first, last) of the indices of a
// distributed array of global size n owned by the calling process. The
// ranges over all processes partition [0, n) exactly, in rank order, and
// any two ranges differ in size by at most one, with the larger shares
// assigned to the lowest ranks. The result is computed from the rank and
// size alone, so every process arrives at a consistent partition with no
// message exchange.
func LocalRange(n int) (first, last int) {
	return LocalRangeOn(Rank(), Size(), n)
}

// LocalRangeOn returns the range of indices owned by the given process in
// a world of numProcesses processes. It is the per-rank form of LocalRange,
// used when one process needs another's range (for example when splitting
// a mesh on the broadcaster). A world of fewer than two processes owns the
// whole range.
func LocalRangeOn(process, numProcesses, n int) (first, last int) {
	if numProcesses < 2 {
		return 0, n
	}

	// Number of items per process and remainder
	perProcess := n / numProcesses
	remainder := n % numProcesses

	// The first remainder processes get one extra item
	if process < remainder {
		first = process * (perProcess + 1)
		last = first + perProcess + 1
		return first, last
	}
	first = process*perProcess + remainder
	last = first + perProcess
	return first, last
}

// IndexOwner returns the rank of the process owning the given index of a
// distributed array of global size n. It is the exact inverse of
// LocalRange: IndexOwner(i, n) == k for every i in the range LocalRange
// computes on rank k. An index outside [0, n) is a precondition violation
// and returns ErrIndexOutOfRange.
func IndexOwner(index, n int) (int, error) {
	return IndexOwnerOn(index, n, Size())
}

// IndexOwnerOn is the explicit-size form of IndexOwner.
func IndexOwnerOn(index, n, numProcesses int) (int, error) {
	if index < 0 || index >= n {
		return 0, fmt.Errorf("%w: index %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}
	if numProcesses < 2 {
		return 0, nil
	}

	perProcess := n / numProcesses
	remainder := n % numProcesses

	// The first remainder processes own perProcess + 1 indices
	if index < remainder*(perProcess+1) {
		return index / (perProcess + 1), nil
	}

	// The remaining processes own perProcess indices
	return remainder + (index-remainder*(perProcess+1))/perProcess, nil
}
