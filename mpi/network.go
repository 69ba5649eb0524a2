package mpi

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Network implements the Mpi interface using network calls provided by the
// net package in the standard library. Network creates an all-to-all
// connection using the specified network protocol among all provided
// addresses. Network uses encoding/gob for (de)serialization, and so some
// network protocols may not be appropriate. Network is not built with
// security in mind, but it does confirm that the hash of the provided
// password matches before accepting any connection.
//
// Network uses the flags provided. It takes the values provided by the
// flags if the zero values are present for the network values.
type Network struct {
	NetProto string        // Which network protocol to use (see net package for options)
	Addr     string        // Address of the local process
	Addrs    []string      // List of the addresses of all processes. Addr must be among them
	Timeout  time.Duration // If set, Init fails if the connections are not made within the duration

	Password string
	Logger   *zap.Logger // Optional; defaults to a nop logger

	hashedPassword string

	myrank int // rank of this process
	nNodes int // total number of processes

	connections []*pairwiseConnection // connections to all of the other processes
	local       *localConnection      // self sends and receives
}

func (n *Network) Rank() int {
	if n.nNodes == 0 {
		return -1
	}
	return n.myrank
}

func (n *Network) Size() int {
	return n.nNodes
}

// localConnection buffers messages a process sends to itself.
type localConnection struct {
	manager    *tagManager
	storedData *xsync.Map[int, []byte]
}

func newLocalConnection() *localConnection {
	return &localConnection{
		manager:    newTagManager(),
		storedData: xsync.NewMap[int, []byte](),
	}
}

func (l *localConnection) AddBytes(tag int, b []byte) error {
	if err := l.manager.Add(tag); err != nil {
		return err
	}
	l.storedData.Store(tag, b)
	return nil
}

func (l *localConnection) Bytes(tag int) ([]byte, error) {
	b, ok := l.storedData.Load(tag)
	if !ok {
		return nil, errors.New("unknown tag")
	}
	return b, nil
}

func (l *localConnection) Delete(tag int) {
	l.manager.Delete(tag)
	l.storedData.Delete(tag)
}

// tagManager matches tagged messages to the goroutines waiting for them.
type tagManager struct {
	comm *xsync.Map[int, chan []byte]
}

func newTagManager() *tagManager {
	return &tagManager{comm: xsync.NewMap[int, chan []byte]()}
}

// Add registers a tag, returning an error if the tag is already in flight.
func (t *tagManager) Add(tag int) error {
	if _, loaded := t.comm.LoadOrStore(tag, make(chan []byte)); loaded {
		return TagExists{Tag: tag}
	}
	return nil
}

// Delete frees the tag for re-use.
func (t *tagManager) Delete(tag int) {
	if _, ok := t.comm.LoadAndDelete(tag); !ok {
		panic("mpi: attempt to delete non-existent tag")
	}
}

// Channel returns the rendezvous channel for the tag.
func (t *tagManager) Channel(tag int) chan []byte {
	c, ok := t.comm.Load(tag)
	if !ok {
		panic("mpi: attempt to return chan from non-existent tag")
	}
	return c
}

type pairwiseConnection struct {
	dial        net.Conn // Send on
	listen      net.Conn // Receive from
	receivetags *tagManager
	sendtags    *tagManager
}

// Init implements the Mpi Init function.
func (n *Network) Init() error {
	// First, deal with flags
	if n.NetProto == "" {
		n.NetProto = FlagProtocol
	}
	if n.Password == "" {
		n.Password = FlagPassword
	}
	if n.Timeout == 0 {
		n.Timeout = FlagInitTimeout
	}
	if n.Addr == "" {
		n.Addr = FlagAddr
	}
	if len(n.Addrs) == 0 {
		n.Addrs = append([]string(nil), FlagAllAddrs...)
	}
	if n.Logger == nil {
		n.Logger = zap.NewNop()
	}

	sum := sha256.Sum256([]byte(n.Password))
	n.hashedPassword = hex.EncodeToString(sum[:])

	// Sort all of the addresses to ensure that all processes agree
	sort.Strings(n.Addrs)

	// Make sure all of the addresses are unique
	for i := 0; i < len(n.Addrs)-1; i++ {
		if n.Addrs[i] == n.Addrs[i+1] {
			return errors.New("mpi init: addresses not unique")
		}
	}

	// Rank is the order in the sorted list
	n.myrank = sort.SearchStrings(n.Addrs, n.Addr)

	// Check that the local address is one of the addresses
	if !(n.myrank < len(n.Addrs) && n.Addrs[n.myrank] == n.Addr) {
		return errors.New("mpi init: local address not in global list")
	}

	n.nNodes = len(n.Addrs)

	if err := n.startConnections(); err != nil {
		return err
	}
	n.Logger.Info("mpi network initialized",
		zap.Int("rank", n.myrank),
		zap.Int("size", n.nNodes),
		zap.String("addr", n.Addr),
	)
	return nil
}

// startConnections creates bi-directional all-to-all connections. Every
// process listens for all of the others and dials all of the others.
func (n *Network) startConnections() error {
	n.connections = make([]*pairwiseConnection, n.nNodes)
	for i := range n.connections {
		n.connections[i] = &pairwiseConnection{
			receivetags: newTagManager(),
			sendtags:    newTagManager(),
		}
	}
	n.local = newLocalConnection()

	var g errgroup.Group
	g.Go(n.establishListenConnections)
	g.Go(n.establishDialConnections)
	return g.Wait()
}

type initialMessage struct {
	Password string // Hashed password for the handshake
	Id       int    // Rank of the remote process
}

type listConn struct {
	conn net.Conn
	err  error
}

// establishListenConnections accepts one connection from every other process.
func (n *Network) establishListenConnections() error {
	listener, err := net.Listen(n.NetProto, n.Addr)
	if err != nil {
		return errors.New("error listening: " + err.Error())
	}

	var g errgroup.Group
	for i := 0; i < n.nNodes-1; i++ {
		// The listener must be able to time out if the user requests (so
		// programs don't freeze when the all-to-all connection can't
		// happen). Accept in its own goroutine and race it with a timer.
		acceptChan := make(chan listConn)
		go func() {
			conn, err := listener.Accept()
			acceptChan <- listConn{conn, err}
		}()

		var list listConn
		if n.Timeout > 0 {
			timer := time.NewTimer(n.Timeout)
			select {
			case list = <-acceptChan:
				timer.Stop()
			case <-timer.C:
				list = listConn{err: errors.New("listener timed out")}
			}
		} else {
			list = <-acceptChan
		}
		if list.err != nil {
			// All-to-all needs to happen, so quit on the first error
			return list.err
		}

		conn := list.conn
		g.Go(func() error {
			// The dialer introduces itself first
			var message initialMessage
			if err := gob.NewDecoder(conn).Decode(&message); err != nil {
				return err
			}
			id, err := n.passwordAndId(message)
			if err != nil {
				return err
			}
			n.connections[id].listen = conn
			n.Logger.Debug("accepted connection", zap.Int("from", id))

			// Send back a handshake the other way
			return gob.NewEncoder(conn).Encode(initialMessage{
				Password: n.hashedPassword,
				Id:       n.myrank,
			})
		})
	}
	return g.Wait()
}

// establishDialConnections dials every other process.
func (n *Network) establishDialConnections() error {
	var g errgroup.Group
	for i := 0; i < n.nNodes; i++ {
		if i == n.myrank {
			continue // Don't dial yourself
		}
		g.Go(func() error {
			// Keep dialing until a connection is reached or the timeout
			// passes. The peers may not have started listening yet.
			var conn net.Conn
			var err error
			start := time.Now()
			for {
				conn, err = net.DialTimeout(n.NetProto, n.Addrs[i], n.Timeout)
				if err == nil || (n.Timeout > 0 && time.Since(start) > n.Timeout) {
					break
				}
				time.Sleep(300 * time.Millisecond)
			}
			if err != nil {
				return err
			}

			// Established the connection, send the first handshake message
			err = gob.NewEncoder(conn).Encode(initialMessage{
				Password: n.hashedPassword,
				Id:       n.myrank,
			})
			if err != nil {
				return err
			}

			// Receive the handshake message back
			var message initialMessage
			if err := gob.NewDecoder(conn).Decode(&message); err != nil {
				return err
			}
			id, err := n.passwordAndId(message)
			if err != nil {
				return err
			}
			n.connections[id].dial = conn
			n.Logger.Debug("dialed connection", zap.Int("to", id))
			return nil
		})
	}
	return g.Wait()
}

// passwordAndId checks that the hashed password matches what the network
// expects and that the id is valid.
func (n *Network) passwordAndId(message initialMessage) (int, error) {
	if message.Password != n.hashedPassword {
		return -1, errors.New("bad password")
	}
	if message.Id >= n.nNodes || message.Id < 0 || message.Id == n.myrank {
		return -1, fmt.Errorf("bad id: %v", message.Id)
	}
	return message.Id, nil
}

// Finalize implements the Mpi Finalize function.
func (n *Network) Finalize() {
	for _, conn := range n.connections {
		if conn.dial != nil {
			conn.dial.Close()
		}
		if conn.listen != nil {
			conn.listen.Close()
		}
	}
	if n.Logger != nil {
		n.Logger.Info("mpi network finalized", zap.Int("rank", n.myrank))
	}
}

// message is the framing sent over the wire. It is not {int, interface{}}
// because then the receiver couldn't deserialize without knowing the type,
// which would make concurrent sends impossible.
type message struct {
	Tag   int
	Bytes []byte
}

// Send implements the Mpi Send function. The data is serialized with gob
// and framed with the tag.
func (n *Network) Send(data interface{}, destination, tag int) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}

	if destination == n.myrank {
		return n.local.AddBytes(tag, buf.Bytes())
	}

	if err := n.connections[destination].sendtags.Add(tag); err != nil {
		return err
	}

	go n.confirmationReader(destination)

	return gob.NewEncoder(n.connections[destination].dial).Encode(message{Tag: tag, Bytes: buf.Bytes()})
}

// confirmationReader reads the confirmation of a received message and
// signals the goroutine waiting on the matching tag.
func (n *Network) confirmationReader(destination int) {
	var m message
	if err := gob.NewDecoder(n.connections[destination].dial).Decode(&m); err != nil {
		panic(err)
	}
	n.connections[destination].sendtags.Channel(m.Tag) <- m.Bytes
}

// Wait implements the Mpi Wait function.
func (n *Network) Wait(destination, tag int) error {
	// Wait for the confirmation on that tag, and then delete the tag to
	// free it for re-use
	if destination == n.myrank {
		<-n.local.manager.Channel(tag)
		n.local.Delete(tag)
		return nil
	}
	<-n.connections[destination].sendtags.Channel(tag)
	n.connections[destination].sendtags.Delete(tag)
	return nil
}

// Receive implements the Mpi Receive function.
func (n *Network) Receive(data interface{}, source, tag int) error {
	manager := n.connections[source].receivetags

	var b []byte
	if source == n.myrank {
		// Get the stored byte slice and send a completion signal
		var err error
		b, err = n.local.Bytes(tag)
		if err != nil {
			return err
		}
		go func(tag int) {
			n.local.manager.Channel(tag) <- []byte{}
		}(tag)
	} else {
		if err := manager.Add(tag); err != nil {
			return err
		}

		go n.receiveReader(source) // decoupled because there may be concurrent sends

		// Receive the bytes, delete the tag, and decode the bytes
		b = <-manager.Channel(tag)
		manager.Delete(tag)
	}

	return gob.NewDecoder(bytes.NewBuffer(b)).Decode(data)
}

// receiveReader reads one message from the connection, hands the payload to
// the goroutine waiting on its tag, and confirms receipt to the sender.
func (n *Network) receiveReader(source int) {
	var m message
	if err := gob.NewDecoder(n.connections[source].listen).Decode(&m); err != nil {
		panic(err)
	}

	n.connections[source].receivetags.Channel(m.Tag) <- m.Bytes

	reply := message{Tag: m.Tag}
	if err := gob.NewEncoder(n.connections[source].listen).Encode(reply); err != nil {
		panic(err)
	}
}
