package logring

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"

	logger "github.com/sirupsen/logrus"
)

// ChunkSize is the largest single write sent to the log listener.
const ChunkSize = 512

// Destination is the remote listener that receives the log.
type Destination struct {
	Host string
	Port int
}

func (d Destination) String() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

type postState int

const (
	postResolving postState = iota
	postConnecting
	postSending
	postDone
	postFailed
)

func (s postState) String() string {
	switch s {
	case postResolving:
		return "resolving"
	case postConnecting:
		return "connecting"
	case postSending:
		return "sending"
	case postDone:
		return "done"
	case postFailed:
		return "failed"
	}
	return "unknown"
}

// poster streams one snapshot of the log. Each step performs one blocking
// operation and moves to the next state on its completion.
type poster struct {
	log     *Log
	dest    Destination
	secure  bool
	rolling int
	total   int

	state postState
	addrs []string
	conn  net.Conn
	stop  func() bool
	sent  int
	chunk []byte
	err   error
}

// Post flushes the log and streams everything written since the rolling
// start block to dest. On success the rolling start block advances by one and
// the log starts empty. Bytes written while the post is in flight may be lost.
func (l *Log) Post(ctx context.Context, dest Destination) error {
	l.lock.Lock()
	if l.logType == Disabled {
		l.lock.Unlock()
		return ErrDisabled
	}
	var err error
	if l.next > 0 && !l.full {
		err = l.program()
	}
	p := &poster{
		log:     l,
		dest:    dest,
		secure:  l.logType == TLS,
		rolling: l.rolling,
		total:   l.used(),
		chunk:   make([]byte, ChunkSize),
	}
	l.lock.Unlock()
	if err != nil {
		return fmt.Errorf("logring: flush before post: %w", err)
	}

	logger.Infof("Posting log [%v] bytes to [%v]", p.total, dest)
	for p.state != postDone && p.state != postFailed {
		p.step(ctx)
	}
	if p.state == postFailed {
		return p.err
	}
	l.posted(p.rolling)
	logger.Infof("Log posted [%v] bytes", p.sent)
	return nil
}

func (p *poster) step(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		p.fail(err)
		return
	}
	switch p.state {
	case postResolving:
		addrs, err := p.log.resolver.LookupHost(ctx, p.dest.Host)
		if err == nil && len(addrs) == 0 {
			err = errors.New("no addresses")
		}
		if err != nil {
			p.fail(fmt.Errorf("logring: resolve %s: %w", p.dest.Host, err))
			return
		}
		p.addrs = addrs
		p.state = postConnecting
	case postConnecting:
		conn, err := p.dial(ctx)
		if err != nil {
			p.fail(fmt.Errorf("logring: connect %v: %w", p.dest, err))
			return
		}
		p.conn = conn
		p.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
		p.state = postSending
	case postSending:
		if p.sent >= p.total {
			p.finish()
			return
		}
		n, err := p.read()
		if err != nil {
			p.fail(fmt.Errorf("logring: read at %d: %w", p.sent, err))
			return
		}
		if _, err := p.conn.Write(p.chunk[:n]); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			p.fail(fmt.Errorf("logring: send at %d: %w", p.sent, err))
			return
		}
		p.sent += n
	}
}

func (p *poster) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(p.addrs[0], strconv.Itoa(p.dest.Port))
	if !p.secure {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	cfg := &tls.Config{}
	if p.log.tlsConfig != nil {
		cfg = p.log.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = p.dest.Host
	}
	d := tls.Dialer{Config: cfg}
	return d.DialContext(ctx, "tcp", addr)
}

// read fills the chunk with the next slice of the log. A chunk never crosses a
// block boundary and the last one is cut to the exact remainder.
func (p *poster) read() (int, error) {
	bs := p.log.dev.BlockSize()
	block, off := p.sent/bs, p.sent%bs
	n := min(ChunkSize, p.total-p.sent, bs-off)
	return n, p.log.dev.ReadAt(p.log.physical(p.rolling, block), off, p.chunk[:n])
}

func (p *poster) finish() {
	p.close()
	p.state = postDone
}

func (p *poster) fail(err error) {
	p.close()
	p.err = err
	p.state = postFailed
	logger.Warnf("Log post failed [%v]", err)
}

func (p *poster) close() {
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// posted resets the log after a successful post.
func (l *Log) posted(rolling int) {
	l.lock.Lock()
	l.rolling = (rolling + 1) % l.dev.Blocks()
	l.block = 0
	l.next = 0
	l.full = false
	for i := range l.buf {
		l.buf[i] = 0
	}
	cursor := EncodeCursor(l.rolling, 0)
	l.lock.Unlock()

	l.cursor.SetNextLogBytePointer(cursor)
	l.cursor.SetShouldPostLog(false)
}
