// Package mpi provides the process topology, ownership arithmetic and
// collective communication layer used by distributed mesh and assembly
// code. This package seeks to enable distributed-memory parallel
// computation using only native go code. While it presents a familiar
// interface to users of MPI, it does not follow the MPI standard exactly.
// In cases where package documentation disagrees with the MPI standard,
// the package documentation should be considered correct.
//
// A single program is executed in parallel on different machines. Each
// process is assigned a unique integer identifier, "rank", with a value
// 0 <= rank < size, where size is the number of cooperating processes.
// The rank and size alone determine, with no message exchange, which
// process owns which index of any globally-numbered array (see LocalRange
// and IndexOwner), and the collective operations move per-process shares
// of such arrays between participants.
//
// This package defines the Mpi interface and provides two implementations.
// Network implements it over the net package in the standard library and
// is used whenever a list of process addresses is configured. Serial is
// the degraded single-process implementation used otherwise: the pure
// topology and ownership queries keep working (rank 0, size 1, whole
// range owned locally), while any operation that needs true collective
// communication fails with ErrCommunicationUnavailable rather than
// returning wrong data.
//
// A parallel program must begin with a call to Init() and should end with
// a call to Finalize(). Init establishes connections among the processes
// to allow point-to-point communication. All processes must invoke the
// collective operations in the same relative order; every collective is a
// rendezvous that blocks until the peers reach the matching call, with no
// built-in timeout.
//
// Package mpi adds several flags to aid in simplicity.
//	-mpi-addr : address of the local running process
//	-mpi-alladdr: comma separated list of the strings of all the addresses
//	-mpi-inittimeout: time.Duration for how long init can take before timing out.
//	-mpi-protocol: string to represent the protocol to use
//	-mpi-password: password to use at MPI initialization
// flag.Parse() must be called in order to use these flags.
package mpi

// Mpi is the set of point-to-point routines a communication backend must
// provide. The collective operations and the mesh distribution protocol
// are layered on top of these. See the function descriptions on the
// package-level wrappers for documentation.
type Mpi interface {
	Init() error
	Finalize()
	Rank() int
	Size() int
	Send(data interface{}, destination, tag int) error
	Wait(destination, tag int) error
	Receive(data interface{}, source, tag int) error
}

var mpier Mpi = &Serial{}
var initialized bool

// Register sets an Mpi implementation to be used in calls to the package
// functions. Register should normally be called during program
// initialization, before Init, and not again.
func Register(m Mpi) {
	mpier = m
}

// Init initializes the communication substrate. Init must be called before
// any communicating function is called, and should only be called once
// during program execution; repeated calls are no-ops. If no backend has
// been registered and the -mpi-alladdr flag names more than one process,
// Init registers and initializes a Network backend; otherwise the Serial
// backend stays in place and Init succeeds trivially.
func Init() error {
	if initialized {
		return nil
	}
	if _, ok := mpier.(*Serial); ok && len(FlagAllAddrs) > 0 {
		mpier = &Network{}
	}
	if err := mpier.Init(); err != nil {
		return err
	}
	initialized = true
	return nil
}

// Initialized reports whether Init has completed successfully.
func Initialized() bool {
	return initialized
}

// Finalize cleans up the communication substrate. After a call to Finalize,
// no more communicating calls may be made (though programs are free to
// continue execution).
func Finalize() {
	mpier.Finalize()
	initialized = false
}

// Rank returns the rank of the local process. Each process has a unique
// rank, agreed upon by all processes, that does not change during program
// execution. 0 <= Rank() < Size(). As a special case, if the size of the
// network is zero (for example Init was not called on a Network backend),
// Rank returns -1.
func Rank() int {
	return mpier.Rank()
}

// Size returns the total number of cooperating processes. Size returns 1
// on the Serial backend and 0 on a Network backend that has not been
// initialized.
func Size() int {
	return mpier.Size()
}

// IsBroadcaster returns true iff this process distributes data in
// collective operations. Process 0 is always the broadcaster.
func IsBroadcaster() bool {
	return Size() > 1 && Rank() == 0
}

// IsReceiver returns true iff this process receives data distributed by
// the broadcaster, i.e. it runs in parallel with a rank above 0.
func IsReceiver() bool {
	return Size() > 1 && Rank() > 0
}

// Send transmits the data to the destination process with the given tag.
// Send may be called concurrently between any number of goroutines, but
// {destination, tag} pairs must be unique among concurrent calls to Send.
// Send blocks until the data has been sent on the connection (thus data is
// again free to be modified), but does not wait for confirmation of
// receipt; Wait may be used to do this. Once a call to Wait has completed,
// a {destination, tag} pair may be reused. A process may send to itself.
func Send(data interface{}, destination, tag int) error {
	return mpier.Send(data, destination, tag)
}

// Wait blocks until confirmation from destination that the data sent with
// the given tag has been received. Wait also frees the {destination, tag}
// pair for re-use.
func Wait(destination, tag int) error {
	return mpier.Wait(destination, tag)
}

// Receive reads from the connection with source and deserializes the bytes
// into data. Data should have the same type as sent via Send. Receive
// returns when the data has been deserialized.
func Receive(data interface{}, source, tag int) error {
	return mpier.Receive(data, source, tag)
}
