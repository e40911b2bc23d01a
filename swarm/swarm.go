// Package swarm implements the UDP wire protocol nodes use to gossip
// genes and fitness: a fixed big-endian binary framing for Hello,
// MigrateRule, and Ack messages, plus a non-blocking listener.
package swarm

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/kolibri-swarm/kolibri/gene"
)

// Magic prefixes every datagram.
var Magic = [3]byte{'K', 'O', 'S'}

const (
	typeHello        = 0x01
	typeMigrateRule  = 0x02
	typeAck          = 0x03
	helloSize        = 8
	ackSize          = 5
	migrateHeaderLen = 3 + 1 + 4 + 1 // magic+type, node_id, gene_length
	migrateTrailer   = 8             // fitness
)

// ErrorKind classifies why a swarm call failed.
type ErrorKind int

const (
	// ErrBind means listener_start could not bind its socket.
	ErrBind ErrorKind = iota
	// ErrDNS means host resolution failed for a send.
	ErrDNS
	// ErrNetwork means a send failed after resolution.
	ErrNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBind:
		return "bind error"
	case ErrDNS:
		return "dns error"
	case ErrNetwork:
		return "network error"
	default:
		return "unknown swarm error"
	}
}

// Error is returned by swarm operations.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("swarm: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("swarm: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// MessageType identifies a decoded message's wire variant.
type MessageType int

const (
	// MessageHello carries only a node ID.
	MessageHello MessageType = iota
	// MessageMigrateRule carries a candidate gene and its fitness.
	MessageMigrateRule
	// MessageAck carries a status byte.
	MessageAck
)

// Hello announces a node's presence.
type Hello struct {
	NodeID uint32
}

// MigrateRule proposes a gene for adoption by the receiver.
type MigrateRule struct {
	NodeID  uint32
	Digits  []uint8 // length == gene_length, each value in [0,9]
	Fitness float64
}

// Ack carries a one-byte status code.
type Ack struct {
	Status uint8
}

// Message is a decoded datagram, tagged by Type with exactly one of the
// payload fields populated.
type Message struct {
	Type        MessageType
	Hello       Hello
	MigrateRule MigrateRule
	Ack         Ack
}

// EncodeHello renders a Hello datagram: magic + type + node_id, 8 bytes.
func EncodeHello(nodeID uint32) []byte {
	out := make([]byte, helloSize)
	copy(out[0:3], Magic[:])
	out[3] = typeHello
	binary.BigEndian.PutUint32(out[4:8], nodeID)
	return out
}

// EncodeMigrateRule renders a MigrateRule datagram. It returns an error
// if len(digits) exceeds gene.Capacity or any digit is not in [0,9] —
// the wire format has no room for a gene that could never decode back.
func EncodeMigrateRule(nodeID uint32, digits []uint8, fitness float64) ([]byte, error) {
	if len(digits) > gene.Capacity || len(digits) > math.MaxUint8 {
		return nil, &Error{Kind: ErrNetwork, Err: fmt.Errorf("gene_length %d exceeds capacity", len(digits))}
	}
	for _, d := range digits {
		if d > 9 {
			return nil, &Error{Kind: ErrNetwork, Err: fmt.Errorf("invalid digit %d", d)}
		}
	}
	out := make([]byte, 0, migrateHeaderLen+len(digits)+migrateTrailer)
	out = append(out, Magic[0], Magic[1], Magic[2], typeMigrateRule)
	var nodeIDBuf [4]byte
	binary.BigEndian.PutUint32(nodeIDBuf[:], nodeID)
	out = append(out, nodeIDBuf[:]...)
	out = append(out, uint8(len(digits)))
	out = append(out, digits...)
	var fitBuf [8]byte
	binary.BigEndian.PutUint64(fitBuf[:], math.Float64bits(fitness))
	out = append(out, fitBuf[:]...)
	return out, nil
}

// EncodeAck renders an Ack datagram: magic + type + status, 5 bytes.
func EncodeAck(status uint8) []byte {
	out := make([]byte, ackSize)
	copy(out[0:3], Magic[:])
	out[3] = typeAck
	out[4] = status
	return out
}

// Decode parses a datagram. Bad magic, unknown type, truncation, and a
// gene_length exceeding capacity are all reported as a plain error —
// callers (the listener) treat any decode error as a silent drop, never
// a fatal condition.
func Decode(raw []byte) (Message, error) {
	if len(raw) < 4 || raw[0] != Magic[0] || raw[1] != Magic[1] || raw[2] != Magic[2] {
		return Message{}, fmt.Errorf("swarm: bad magic")
	}
	switch raw[3] {
	case typeHello:
		if len(raw) != helloSize {
			return Message{}, fmt.Errorf("swarm: bad hello length %d", len(raw))
		}
		return Message{Type: MessageHello, Hello: Hello{NodeID: binary.BigEndian.Uint32(raw[4:8])}}, nil
	case typeMigrateRule:
		if len(raw) < migrateHeaderLen {
			return Message{}, fmt.Errorf("swarm: truncated migrate_rule header")
		}
		nodeID := binary.BigEndian.Uint32(raw[4:8])
		geneLength := int(raw[8])
		if geneLength > gene.Capacity {
			return Message{}, fmt.Errorf("swarm: gene_length %d exceeds capacity", geneLength)
		}
		want := migrateHeaderLen + geneLength + migrateTrailer
		if len(raw) != want {
			return Message{}, fmt.Errorf("swarm: bad migrate_rule length %d, want %d", len(raw), want)
		}
		digits := make([]uint8, geneLength)
		copy(digits, raw[9:9+geneLength])
		for _, d := range digits {
			if d > 9 {
				return Message{}, fmt.Errorf("swarm: invalid digit %d", d)
			}
		}
		fitBits := binary.BigEndian.Uint64(raw[9+geneLength : 9+geneLength+8])
		fitness := math.Float64frombits(fitBits)
		return Message{Type: MessageMigrateRule, MigrateRule: MigrateRule{NodeID: nodeID, Digits: digits, Fitness: fitness}}, nil
	case typeAck:
		if len(raw) != ackSize {
			return Message{}, fmt.Errorf("swarm: bad ack length %d", len(raw))
		}
		return Message{Type: MessageAck, Ack: Ack{Status: raw[4]}}, nil
	default:
		return Message{}, fmt.Errorf("swarm: unknown type 0x%02x", raw[3])
	}
}

// SendHello resolves host:port and sends one Hello datagram, no retries.
func SendHello(host string, port int, nodeID uint32) error {
	return send(host, port, EncodeHello(nodeID))
}

// SendFormula resolves host:port and sends one MigrateRule datagram.
func SendFormula(host string, port int, nodeID uint32, digits []uint8, fitness float64) error {
	msg, err := EncodeMigrateRule(nodeID, digits, fitness)
	if err != nil {
		return err
	}
	return send(host, port, msg)
}

// SendAck resolves host:port and sends one Ack datagram.
func SendAck(host string, port int, status uint8) error {
	return send(host, port, EncodeAck(status))
}

func send(host string, port int, payload []byte) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &Error{Kind: ErrDNS, Err: err}
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return &Error{Kind: ErrNetwork, Err: err}
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return &Error{Kind: ErrNetwork, Err: err}
	}
	return nil
}

// Listener is a non-blocking UDP receiver with best-effort duplicate
// suppression.
type Listener struct {
	conn   *net.UDPConn
	dedupe *dedupeFilter
}

// ListenerStart binds a UDP socket on 0.0.0.0:port. port=0 requests an
// OS-chosen port.
func ListenerStart(port int) (*Listener, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, &Error{Kind: ErrBind, Err: err}
	}
	return &Listener{conn: conn, dedupe: newDedupeFilter()}, nil
}

// Port returns the bound local port (useful after port=0).
func (l *Listener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Poll waits up to timeout_ms for one datagram; timeout_ms == 0 means an
// immediate, non-blocking check of whatever is already queued. It returns
// ok=false on timeout. Decode failures and duplicate datagrams are silently
// dropped and retried against the remaining budget, never surfaced as an
// error — peer input, however malformed, must never fail a poll.
func (l *Listener) Poll(timeoutMs int) (Message, bool) {
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	buf := make([]byte, 2048)
	first := true
	for {
		readDeadline := deadline
		if first {
			// always attempt one read, even for an already-elapsed deadline
			// (timeout_ms == 0): a datagram may already be queued.
			if readDeadline.Before(time.Now()) {
				readDeadline = time.Now()
			}
			first = false
		} else if time.Until(deadline) <= 0 {
			return Message{}, false
		}
		l.conn.SetReadDeadline(readDeadline)
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return Message{}, false
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		msg, err := Decode(raw)
		if err != nil {
			continue
		}
		if l.dedupe.seen(raw) {
			continue
		}
		return msg, true
	}
}

// Close releases the listener's socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
