package mpi

import "fmt"

// Serial is the degraded single-process implementation of the Mpi
// interface, used when no communication substrate is configured. The pure
// topology queries report a one-process world (rank 0, size 1) so that the
// ownership arithmetic degrades gracefully, while any operation that moves
// data fails with ErrCommunicationUnavailable rather than silently
// returning wrong data.
type Serial struct{}

func (s *Serial) Init() error { return nil }

func (s *Serial) Finalize() {}

func (s *Serial) Rank() int { return 0 }

func (s *Serial) Size() int { return 1 }

func (s *Serial) Send(data interface{}, destination, tag int) error {
	return fmt.Errorf("%w: Send requires a communication substrate", ErrCommunicationUnavailable)
}

func (s *Serial) Wait(destination, tag int) error {
	return fmt.Errorf("%w: Wait requires a communication substrate", ErrCommunicationUnavailable)
}

func (s *Serial) Receive(data interface{}, source, tag int) error {
	return fmt.Errorf("%w: Receive requires a communication substrate", ErrCommunicationUnavailable)
}
