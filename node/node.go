// Package node assembles the chain store, mining coordinator, verifier,
// gossip endpoint and HTTP API into one supervised lifecycle with a
// Start/Stop contract.
package node

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/internal/sealapi"
	"github.com/seal-network/gseal/metrics"
	"github.com/seal-network/gseal/miner"
	"github.com/seal-network/gseal/p2p"
	"github.com/seal-network/gseal/verifier"
)

var log = logrus.WithField("prefix", "node")

// Node is one running gseal instance.
type Node struct {
	cfg Config

	db       *sql.DB
	store    *core.ChainStore
	coord    *miner.Coordinator
	verifier *verifier.Verifier
	gossip   *p2p.Gossip
	httpSrv  *http.Server

	quit    chan struct{}
	stopped chan struct{}
}

// New opens the database, warms the chain store and wires the
// components. Nothing is serving until Start.
func New(ctx context.Context, cfg Config) (*Node, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store, err := core.NewChainStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	gossip := p2p.New(store, p2p.Config{
		ListenAddr: fmt.Sprintf(":%d", cfg.P2PPort),
		Peers:      cfg.Peers,
	})
	coord := miner.NewCoordinator(store, gossip, miner.Config{
		Difficulty:    cfg.Difficulty,
		MaxDataSize:   cfg.MaxDataSize,
		MiningTimeout: cfg.MiningTimeout,
	})
	verif := verifier.New(store, verifier.Config{
		Interval: cfg.VerifyInterval,
		Batch:    cfg.VerifyBatch,
		MinAge:   cfg.VerifyMinAge,
	})
	api := sealapi.NewServer(store, coord, gossip, sealapi.Config{
		EnableMetrics: cfg.EnableMetrics,
		MaxDataSize:   cfg.MaxDataSize,
	})

	return &Node{
		cfg:      cfg,
		db:       db,
		store:    store,
		coord:    coord,
		verifier: verif,
		gossip:   gossip,
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Store exposes the chain store, mainly for tests and tooling.
func (n *Node) Store() *core.ChainStore { return n.store }

// Start brings up gossip, the verifier and the HTTP listener.
func (n *Node) Start() error {
	if err := n.gossip.Start(); err != nil {
		return fmt.Errorf("start gossip: %w", err)
	}
	n.verifier.Start()
	go n.trackChainEvents()

	go func() {
		log.WithField("addr", n.httpSrv.Addr).Info("HTTP API listening")
		if err := n.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
		}
	}()
	return nil
}

// trackChainEvents keeps the height gauge current and logs chain
// replacements, which are rare enough to warrant a line each.
func (n *Node) trackChainEvents() {
	events := make(chan core.ChainEvent, 16)
	sub := n.store.SubscribeChainEvent(events)
	defer sub.Unsubscribe()

	metrics.ChainHeight.Set(float64(n.store.ChainLength()))
	for {
		select {
		case ev := <-events:
			if ev.Block != nil {
				metrics.ChainHeight.Set(float64(ev.Block.Number))
			}
			if ev.Replaced {
				log.WithField("height", n.store.ChainLength()).Warn("Chain replaced by peer sync")
			}
		case <-n.quit:
			return
		}
	}
}

// Stop tears the node down in reverse dependency order: stop accepting
// requests, stop gossip, stop the verifier, close the database. Appends
// are transactional, so interrupting in-flight work leaves no partial
// blocks.
func (n *Node) Stop() error {
	defer close(n.stopped)
	close(n.quit)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return n.httpSrv.Shutdown(ctx) })
	g.Go(func() error { n.gossip.Stop(); return nil })
	g.Go(func() error { n.verifier.Stop(); return nil })
	err := g.Wait()

	if cerr := n.db.Close(); err == nil {
		err = cerr
	}
	log.Info("Node stopped")
	return err
}

// Wait blocks until Stop has completed.
func (n *Node) Wait() {
	<-n.stopped
}
