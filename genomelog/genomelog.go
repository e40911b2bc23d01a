// Package genomelog implements the append-only, HMAC-chained event log
// that records every interactive and autonomous action a node takes. Each
// record is a fixed 512-byte block; the chain is verified by walking
// prev_hash and hmac forward from block zero.
package genomelog

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	// BlockSize is the fixed on-disk size of one log record.
	BlockSize = 512

	offsetIndex       = 0
	offsetTimestamp   = 8
	offsetPrevHash    = 16
	offsetHMAC        = 48
	offsetEventType   = 80
	offsetPayload     = 112
	eventTypeSize     = 32
	// PayloadSize is the fixed capacity of a block's payload field, P in
	// the block layout.
	PayloadSize = BlockSize - offsetPayload

	// MaxKeyLen is the largest HMAC key accepted by Open.
	MaxKeyLen = 64
)

// Status is the outcome of Verify.
type Status int

const (
	// StatusOk means every block in the file satisfies the chain invariant.
	StatusOk Status = iota
	// StatusMissing means the file does not exist.
	StatusMissing
	// StatusCorrupt means some block failed its hash or hmac check.
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusMissing:
		return "missing"
	case StatusCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// ErrorKind classifies why a genomelog call failed.
type ErrorKind int

const (
	// ErrTruncated means the file length is not a multiple of BlockSize.
	// Verify reports it; Open instead truncates a torn tail away.
	ErrTruncated ErrorKind = iota
	// ErrCorrupt means a block failed the chain invariant.
	ErrCorrupt
	// ErrKeyTooLong means the supplied HMAC key exceeds MaxKeyLen.
	ErrKeyTooLong
	// ErrInvalidArgument means event_type or payload_digits violated a
	// field constraint (length or character set).
	ErrInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case ErrTruncated:
		return "truncated"
	case ErrCorrupt:
		return "corrupt"
	case ErrKeyTooLong:
		return "key too long"
	case ErrInvalidArgument:
		return "invalid argument"
	default:
		return "unknown genomelog error"
	}
}

// Error is returned by genomelog operations.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("genomelog: %s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("genomelog: %s", e.Kind)
}

// Block is one 512-byte record. EventType and Payload are stored
// zero-padded to their field widths.
type Block struct {
	Index       uint64
	TimestampMs uint64
	PrevHash    [32]byte
	HMAC        [32]byte
	EventType   [eventTypeSize]byte
	Payload     [PayloadSize]byte
}

// marshal renders the block to its exact 512-byte on-disk image.
func (b Block) marshal() []byte {
	out := make([]byte, BlockSize)
	binary.BigEndian.PutUint64(out[offsetIndex:], b.Index)
	binary.BigEndian.PutUint64(out[offsetTimestamp:], b.TimestampMs)
	copy(out[offsetPrevHash:], b.PrevHash[:])
	copy(out[offsetHMAC:], b.HMAC[:])
	copy(out[offsetEventType:], b.EventType[:])
	copy(out[offsetPayload:], b.Payload[:])
	return out
}

func unmarshal(raw []byte) Block {
	var b Block
	b.Index = binary.BigEndian.Uint64(raw[offsetIndex:])
	b.TimestampMs = binary.BigEndian.Uint64(raw[offsetTimestamp:])
	copy(b.PrevHash[:], raw[offsetPrevHash:offsetPrevHash+32])
	copy(b.HMAC[:], raw[offsetHMAC:offsetHMAC+32])
	copy(b.EventType[:], raw[offsetEventType:offsetEventType+eventTypeSize])
	copy(b.Payload[:], raw[offsetPayload:offsetPayload+PayloadSize])
	return b
}

// macInput returns the bytes the block's HMAC is computed over: the
// 16-byte header (index, timestamp), the 32-byte prev_hash, the 32-byte
// event_type, and the payload — exactly the teacher's "header || body"
// HMAC-over-canonical-bytes shape, adapted from a protobuf message to
// this fixed binary layout.
func macInput(b Block) []byte {
	buf := make([]byte, 0, 16+32+eventTypeSize+PayloadSize)
	var hdr [16]byte
	binary.BigEndian.PutUint64(hdr[0:8], b.Index)
	binary.BigEndian.PutUint64(hdr[8:16], b.TimestampMs)
	buf = append(buf, hdr[:]...)
	buf = append(buf, b.PrevHash[:]...)
	buf = append(buf, b.EventType[:]...)
	buf = append(buf, b.Payload[:]...)
	return buf
}

func computeHMAC(key []byte, b Block) [32]byte {
	h := hmac.New(sha256.New, key)
	h.Write(macInput(b))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func imageHash(raw []byte) [32]byte {
	return sha256.Sum256(raw)
}

// Log is an open append-only genome log. The zero value is not valid;
// use Open.
type Log struct {
	path      string
	key       []byte
	file      *os.File
	nextIndex uint64
	prevHash  [32]byte
	nowFunc   func() uint64
}

// nowMs is the node's monotonic clock source (milliseconds since process
// start, not wall-clock time); per design, this is
// the only legitimate process-wide state in the system.
var nowMs = defaultNowMs

// Open opens or creates the log at path. If the file exists and is
// non-empty, every block is verified and next_index is restored as the
// last block's index + 1. A torn tail (length 512*n+r, 0<r<BlockSize) is
// truncated to 512*n before verification, per the documented crash
// recovery contract; the reference implementation this is adapted from
// left that truncation implicit.
func Open(path string, key []byte) (*Log, error) {
	if len(key) > MaxKeyLen {
		return nil, &Error{Kind: ErrKeyTooLong}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	whole := (size / BlockSize) * BlockSize
	if whole != size {
		if err := f.Truncate(whole); err != nil {
			f.Close()
			return nil, err
		}
		size = whole
	}

	l := &Log{path: path, key: append([]byte(nil), key...), file: f, nowFunc: nowMs}
	if size == 0 {
		l.nextIndex = 0
		l.prevHash = [32]byte{}
		return l, nil
	}

	status, lastBlock, lastImage, verifyErr := verifyFile(f, key, size)
	if status == StatusCorrupt {
		f.Close()
		return nil, verifyErr
	}
	l.nextIndex = lastBlock.Index + 1
	l.prevHash = imageHash(lastImage)
	return l, nil
}

func defaultNowMs() uint64 {
	return uint64(osMonotonicMs())
}

// Append validates event_type and payload_digits, builds the next block
// in the chain, and writes it. On any write failure the on-disk state is
// left equal to what it was before (a short/partial write is truncated
// away) so the file never carries a half-written block.
func (l *Log) Append(eventType string, payloadDigits []byte) (Block, error) {
	var et [eventTypeSize]byte
	if len(eventType) > eventTypeSize || !isASCII(eventType) {
		return Block{}, &Error{Kind: ErrInvalidArgument, Msg: "event_type"}
	}
	copy(et[:], eventType)

	if len(payloadDigits) > PayloadSize {
		return Block{}, &Error{Kind: ErrInvalidArgument, Msg: "payload_digits too long"}
	}
	for _, c := range payloadDigits {
		if c < '0' || c > '9' {
			return Block{}, &Error{Kind: ErrInvalidArgument, Msg: "payload_digits must be ASCII 0-9"}
		}
	}
	var payload [PayloadSize]byte
	copy(payload[:], payloadDigits)

	b := Block{
		Index:       l.nextIndex,
		TimestampMs: l.nowFunc(),
		PrevHash:    l.prevHash,
		EventType:   et,
		Payload:     payload,
	}
	b.HMAC = computeHMAC(l.key, b)
	image := b.marshal()

	offset := int64(l.nextIndex) * BlockSize
	n, err := l.file.WriteAt(image, offset)
	if err != nil || n != BlockSize {
		// leave on-disk state consistent: drop whatever partial bytes landed.
		l.file.Truncate(offset)
		if err == nil {
			err = errors.New("genomelog: short write")
		}
		return Block{}, err
	}
	if err := l.file.Sync(); err != nil {
		return Block{}, err
	}

	l.nextIndex++
	l.prevHash = imageHash(image)
	return b, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}

// Path returns the log's file path.
func (l *Log) Path() string { return l.path }

// NextIndex returns the index the next Append will use.
func (l *Log) NextIndex() uint64 { return l.nextIndex }

// Verify re-opens path independently of any Log held by the caller and
// checks every block's chain invariant without modifying the file.
func Verify(path string, key []byte) (Status, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return StatusMissing, nil
	}
	if err != nil {
		return StatusCorrupt, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return StatusCorrupt, err
	}
	size := info.Size()
	whole := (size / BlockSize) * BlockSize
	if whole != size {
		return StatusCorrupt, &Error{Kind: ErrTruncated}
	}
	if size == 0 {
		return StatusOk, nil
	}
	status, _, _, err := verifyFile(f, key, size)
	return status, err
}

// verifyFile walks every whole block in f, checking the hash/hmac chain.
// It returns the last block and its raw image on success.
func verifyFile(f *os.File, key []byte, size int64) (Status, Block, []byte, error) {
	n := size / BlockSize
	var prevHash [32]byte
	var last Block
	var lastImage []byte

	for i := int64(0); i < n; i++ {
		raw := make([]byte, BlockSize)
		if _, err := f.ReadAt(raw, i*BlockSize); err != nil {
			return StatusCorrupt, Block{}, nil, &Error{Kind: ErrCorrupt, Msg: err.Error()}
		}
		b := unmarshal(raw)
		if b.Index != uint64(i) {
			return StatusCorrupt, Block{}, nil, &Error{Kind: ErrCorrupt, Msg: "index out of sequence"}
		}
		if i == 0 {
			if b.PrevHash != ([32]byte{}) {
				return StatusCorrupt, Block{}, nil, &Error{Kind: ErrCorrupt, Msg: "first block prev_hash not zero"}
			}
		} else if b.PrevHash != prevHash {
			return StatusCorrupt, Block{}, nil, &Error{Kind: ErrCorrupt, Msg: "prev_hash mismatch"}
		}
		want := computeHMAC(key, b)
		if !hmac.Equal(want[:], b.HMAC[:]) {
			return StatusCorrupt, Block{}, nil, &Error{Kind: ErrCorrupt, Msg: "hmac mismatch"}
		}
		prevHash = imageHash(raw)
		last = b
		lastImage = raw
	}
	return StatusOk, last, lastImage, nil
}

// Filter selects which blocks Scan delivers to callback.
type Filter struct {
	EventType string // empty matches every event type
}

// Scan streams blocks from path in order, delivering payload as raw
// digit bytes (trailing zero padding stripped to the text the caller
// originally appended is the caller's job via the digits package; Scan
// hands back the fixed-width field verbatim).
func Scan(path string, filter Filter, callback func(Block) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	n := (info.Size() / BlockSize)
	for i := int64(0); i < n; i++ {
		raw := make([]byte, BlockSize)
		if _, err := f.ReadAt(raw, i*BlockSize); err != nil {
			return err
		}
		b := unmarshal(raw)
		if filter.EventType != "" {
			et := bytes.TrimRight(b.EventType[:], "\x00")
			if string(et) != filter.EventType {
				continue
			}
		}
		if err := callback(b); err != nil {
			return err
		}
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}
