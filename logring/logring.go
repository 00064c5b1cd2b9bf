// Package logring keeps an append-only byte log in a small circular region of
// block storage. The write position survives sleep through a cursor held by
// the power controller, and the whole log is flushed to a remote TCP or TLS
// listener once it runs low on space.
package logring

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"

	logger "github.com/sirupsen/logrus"
)

type LogType uint8

const (
	Disabled LogType = 0
	TCP      LogType = 1
	TLS      LogType = 2
)

func (t LogType) String() string {
	switch t {
	case Disabled:
		return "disabled"
	case TCP:
		return "tcp"
	case TLS:
		return "tls"
	}
	return "unknown"
}

// Valid reports whether t is one of the known log types.
func (t LogType) Valid() bool {
	return t <= TLS
}

// postLogThreshold is the share of free space below which a post is requested.
const postLogThreshold = 10

var ErrDisabled = errors.New("logring: log disabled")

// CursorStore is the part of the power controller the log reads its cursor
// from and reports back to.
type CursorStore interface {
	NextLogBytePointer() uint32
	SetNextLogBytePointer(uint32)
	SetShouldPostLog(bool)
}

type Log struct {
	lock    sync.Mutex
	dev     BlockDevice
	cursor  CursorStore
	logType LogType
	buf     []byte
	rolling int
	block   int // logical block, relative to rolling
	next    int // next free byte in buf
	full    bool
	dropped int

	resolver  *net.Resolver
	tlsConfig *tls.Config
}

type Option func(*Log)

// WithResolver replaces the resolver used to look up the post destination.
func WithResolver(r *net.Resolver) Option {
	return func(l *Log) { l.resolver = r }
}

// WithTLSConfig sets the client configuration for TLS posts.
func WithTLSConfig(c *tls.Config) Option {
	return func(l *Log) { l.tlsConfig = c }
}

func New(dev BlockDevice, cursor CursorStore, opts ...Option) *Log {
	l := &Log{
		dev:      dev,
		cursor:   cursor,
		resolver: net.DefaultResolver,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Enable loads the block the cursor points at. A cursor past the end of the
// region leaves the log full: nothing is read and writes are dropped until a
// post succeeds.
func (l *Log) Enable(t LogType) error {
	c := l.cursor.NextLogBytePointer()

	l.lock.Lock()
	defer l.lock.Unlock()

	bs, blocks := l.dev.BlockSize(), l.dev.Blocks()
	rolling, off := DecodeCursor(c)
	l.rolling = rolling % blocks
	l.block = off / bs
	l.next = off % bs
	l.full = false
	l.logType = t
	if t == Disabled {
		l.buf = nil
		return nil
	}
	l.buf = make([]byte, bs)
	if l.block >= blocks {
		l.block = blocks
		l.next = 0
		l.full = true
		return nil
	}
	if err := l.dev.ReadAt(l.physical(l.rolling, l.block), 0, l.buf); err != nil {
		l.logType = Disabled
		l.buf = nil
		return err
	}
	return nil
}

func (l *Log) Type() LogType {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.logType
}

func (l *Log) Full() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.full
}

// Dropped returns the number of bytes discarded because the log was full or a
// block failed to program.
func (l *Log) Dropped() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.dropped
}

// Cursor returns the encoded write position.
func (l *Log) Cursor() uint32 {
	l.lock.Lock()
	defer l.lock.Unlock()
	return EncodeCursor(l.rolling, l.used())
}

// Write appends p. It never fails: bytes that cannot be stored are dropped.
func (l *Log) Write(p []byte) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, c := range p {
		l.append(c)
	}
	return len(p), nil
}

func (l *Log) WriteByte(c byte) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.append(c)
	return nil
}

func (l *Log) append(c byte) {
	if l.logType == Disabled {
		return
	}
	if l.full {
		l.dropped++
		return
	}
	l.buf[l.next] = c
	l.next++
	if l.next < len(l.buf) {
		return
	}
	if err := l.program(); err != nil {
		l.dropped += len(l.buf)
	}
	l.next = 0
	l.block++
	for i := range l.buf {
		l.buf[i] = 0
	}
	if l.block >= l.dev.Blocks() {
		l.full = true
	}
}

// Save programs the partially filled block and hands the cursor to the
// controller. A full or nearly full log also requests a post.
func (l *Log) Save() {
	l.lock.Lock()
	if l.logType == Disabled {
		l.lock.Unlock()
		return
	}
	var err error
	if l.next > 0 && !l.full {
		err = l.program()
	}
	used := l.used()
	cursor := EncodeCursor(l.rolling, used)
	capacity := l.dev.Blocks() * l.dev.BlockSize()
	post := l.full || (capacity-used)*100 < capacity*postLogThreshold
	l.lock.Unlock()

	l.cursor.SetNextLogBytePointer(cursor)
	if post {
		l.cursor.SetShouldPostLog(true)
	}
	if err != nil {
		logger.Errorf("Failed to save log block [%v]", err)
	}
}

// used is the number of bytes written since the rolling start block.
func (l *Log) used() int {
	return l.block*l.dev.BlockSize() + l.next
}

func (l *Log) physical(rolling, logical int) int {
	return (rolling + logical) % l.dev.Blocks()
}

func (l *Log) program() error {
	phys := l.physical(l.rolling, l.block)
	if err := l.dev.Erase(phys); err != nil {
		return err
	}
	return l.dev.Program(phys, l.buf)
}
