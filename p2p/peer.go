package p2p

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 20 // full chains can be large

	sendQueueSize = 64
)

// peer is one live gossip connection, inbound or outbound.
type peer struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	addr      string
}

func newPeer(conn *websocket.Conn, addr string) *peer {
	return &peer{
		conn:   conn,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
		addr:   addr,
	}
}

// enqueue hands a frame to the write pump. Frames are dropped when the
// peer's queue is full or the peer is closing; gossip is best-effort and
// convergence is restored by CHAIN exchange.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case p.send <- frame:
		return true
	case <-p.closed:
		return false
	default:
		return false
	}
}

// writePump serializes all writes to the connection and keeps it alive
// with pings.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-p.send:
			if !ok {
				return
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.conn.Close()
	})
}
