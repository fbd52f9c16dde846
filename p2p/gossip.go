// Package p2p implements the cooperative chain gossip: each node accepts
// long-lived websocket connections and dials its configured peers. On
// connection open either side sends its full chain; afterwards freshly
// appended blocks are pushed as BLOCK messages and re-broadcast on
// acceptance. Longer valid chains replace the local one atomically.
package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/metrics"
	"github.com/seal-network/gseal/params"
)

var log = logrus.WithField("prefix", "p2p")

// ChainStore is the minimal store interface gossip consumes. Satisfied
// by core.ChainStore.
type ChainStore interface {
	Chain() []*types.Block
	ChainLength() int
	AppendBlock(ctx context.Context, b *types.Block) (core.AppendResult, *types.Block, error)
	ReplaceChain(ctx context.Context, candidate []*types.Block) error
	CreatorByID(ctx context.Context, id uuid.UUID) (*types.Creator, error)
}

// Config for the gossip endpoint.
type Config struct {
	ListenAddr string   // e.g. ":6001"
	Peers      []string // ws:// endpoints or host:port shorthand
	DialRetry  time.Duration
}

// Gossip is the peer-to-peer convergence component.
type Gossip struct {
	store ChainStore
	cfg   Config

	srv      *http.Server
	ln       net.Listener
	upgrader websocket.Upgrader

	mu    sync.Mutex
	peers map[*peer]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

// New creates a stopped gossip endpoint.
func New(store ChainStore, cfg Config) *Gossip {
	if cfg.DialRetry <= 0 {
		cfg.DialRetry = params.DefaultDialRetry
	}
	return &Gossip{
		store: store,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers: make(map[*peer]struct{}),
		quit:  make(chan struct{}),
	}
}

// Start binds the acceptor and launches one dialer per configured peer.
func (g *Gossip) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.handleUpgrade)
	g.srv = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", g.cfg.ListenAddr)
	if err != nil {
		return err
	}
	g.ln = ln
	go func() {
		if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Gossip acceptor failed")
		}
	}()

	for _, endpoint := range g.cfg.Peers {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		g.wg.Add(1)
		go g.dialLoop(endpoint)
	}
	log.WithFields(logrus.Fields{"listen": ln.Addr().String(), "peers": len(g.cfg.Peers)}).Info("Gossip started")
	return nil
}

// Addr returns the bound listen address, valid after Start.
func (g *Gossip) Addr() string {
	if g.ln == nil {
		return g.cfg.ListenAddr
	}
	return g.ln.Addr().String()
}

// Stop closes all sockets and the acceptor.
func (g *Gossip) Stop() {
	close(g.quit)
	if g.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.srv.Shutdown(ctx)
	}
	g.mu.Lock()
	for p := range g.peers {
		p.close()
	}
	g.mu.Unlock()
	g.wg.Wait()
}

// PeerCount returns the number of live connections.
func (g *Gossip) PeerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.peers)
}

// BroadcastBlock pushes a block to every connected peer. Sends are
// best-effort; a full peer queue drops the frame.
func (g *Gossip) BroadcastBlock(b *types.Block) {
	g.broadcast(&Message{Type: MsgBlock, Block: b}, nil)
}

func (g *Gossip) broadcast(msg *Message, skip *peer) {
	frame, err := json.Marshal(msg)
	if err != nil {
		log.WithError(err).Error("Failed to encode gossip message")
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for p := range g.peers {
		if p == skip {
			continue
		}
		if !p.enqueue(frame) {
			log.WithField("peer", p.addr).Debug("Dropped gossip frame, queue full")
		}
	}
}

func (g *Gossip) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	g.runPeer(conn, r.RemoteAddr)
}

// dialLoop keeps one outbound connection alive, reconnecting with a
// fixed backoff. Reconnects re-trigger the CHAIN exchange, which is what
// ultimately converges partitioned nodes.
func (g *Gossip) dialLoop(endpoint string) {
	defer g.wg.Done()
	target := normalizeEndpoint(endpoint)
	for {
		select {
		case <-g.quit:
			return
		default:
		}
		conn, _, err := websocket.DefaultDialer.Dial(target, nil)
		if err != nil {
			log.WithError(err).WithField("peer", target).Debug("Peer dial failed")
		} else {
			g.runPeer(conn, target)
		}
		select {
		case <-g.quit:
			return
		case <-time.After(g.cfg.DialRetry):
		}
	}
}

// runPeer owns one connection until it dies: registers it, sends the
// local chain, then consumes messages.
func (g *Gossip) runPeer(conn *websocket.Conn, addr string) {
	p := newPeer(conn, addr)
	g.mu.Lock()
	g.peers[p] = struct{}{}
	g.mu.Unlock()
	metrics.PeersConnected.Inc()
	log.WithField("peer", addr).Info("Peer connected")

	go p.writePump()
	g.sendChain(p)
	g.readLoop(p)

	g.mu.Lock()
	delete(g.peers, p)
	g.mu.Unlock()
	p.close()
	metrics.PeersConnected.Dec()
	log.WithField("peer", addr).Info("Peer disconnected")
}

func (g *Gossip) sendChain(p *peer) {
	frame, err := json.Marshal(&Message{Type: MsgChain, Chain: g.store.Chain()})
	if err != nil {
		log.WithError(err).Error("Failed to encode chain message")
		return
	}
	p.enqueue(frame)
}

func (g *Gossip) readLoop(p *peer) {
	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			log.WithError(err).WithField("peer", p.addr).Warn("Malformed gossip message")
			continue
		}
		g.handleMessage(p, &msg)
	}
}

func (g *Gossip) handleMessage(p *peer, msg *Message) {
	metrics.GossipMessages.WithLabelValues(msg.Type).Inc()
	switch msg.Type {
	case MsgBlock:
		if msg.Block != nil {
			g.handleBlock(p, msg.Block)
		}
	case MsgChain:
		g.handleChain(p, msg.Chain)
	default:
		log.WithField("type", msg.Type).Debug("Ignoring unknown gossip message")
	}
}

// handleBlock validates an announced block and tries to append it. Only
// a fresh insert is re-broadcast, which keeps gossip storms bounded.
func (g *Gossip) handleBlock(p *peer, b *types.Block) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := core.ValidateBlock(ctx, b, g.store.CreatorByID); err != nil {
		log.WithError(err).WithField("peer", p.addr).Warn("Rejected gossiped block")
		return
	}
	result, _, err := g.store.AppendBlock(ctx, b)
	if err != nil {
		log.WithError(err).WithField("peer", p.addr).Debug("Gossiped block not appended")
		return
	}
	if result == core.Inserted {
		g.broadcast(&Message{Type: MsgBlock, Block: b}, p)
	}
}

// handleChain applies the longest-chain rule: a strictly longer, fully
// valid candidate replaces the local chain; anything else is ignored.
func (g *Gossip) handleChain(p *peer, chain []*types.Block) {
	if len(chain) <= g.store.ChainLength() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := core.ValidateChain(ctx, chain, g.store.CreatorByID); err != nil {
		log.WithError(err).WithField("peer", p.addr).Warn("Rejected candidate chain")
		return
	}
	if err := g.store.ReplaceChain(ctx, chain); err != nil {
		if errors.Is(err, core.ErrChainTooShort) {
			return // lost the race to a longer local chain
		}
		log.WithError(err).WithField("peer", p.addr).Warn("Chain replacement failed")
		return
	}
	log.WithFields(logrus.Fields{"peer": p.addr, "length": len(chain)}).Info("Adopted longer chain from peer")
}

// normalizeEndpoint turns host:port shorthand into a ws:// URL.
func normalizeEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint
	}
	u := url.URL{Scheme: "ws", Host: endpoint, Path: "/"}
	return u.String()
}
