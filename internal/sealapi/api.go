// Package sealapi serves the node's HTTP API: creator registration and
// lookup, the two-phase mining protocol, chain reads and the decryption
// envelopes. All binary fields cross this boundary hex encoded except
// the decrypt endpoint, which uses base64.
package sealapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/seal-network/gseal/core"
	"github.com/seal-network/gseal/core/types"
	"github.com/seal-network/gseal/miner"
	"github.com/seal-network/gseal/params"

	"github.com/google/uuid"
)

var log = logrus.WithField("prefix", "api")

// Store is the read/registration surface the API consumes. Satisfied by
// core.ChainStore.
type Store interface {
	Ping(ctx context.Context) error
	ChainLength() int
	PaginatedBlocks(ctx context.Context, page, limit int, filter core.VerifiedFilter, sort core.PageSort) ([]*types.Block, int, error)
	EnvelopesByCreator(ctx context.Context, creatorID uuid.UUID) ([]*types.Envelope, error)
	ChainStatsSummary(ctx context.Context) (*core.ChainStats, error)
	CreatorStatsSummary(ctx context.Context) (*core.CreatorStats, error)
	Creators(ctx context.Context) ([]*core.CreatorInfo, error)
	CreatorByName(ctx context.Context, displayName string) (*types.Creator, error)
	RegisterCreator(ctx context.Context, displayName, publicKeyPEM string) (*types.Creator, error)
}

// Coordinator is the mining surface. Satisfied by miner.Coordinator.
type Coordinator interface {
	PrepareMining(ctx context.Context, displayName string, dataTextLength int) (*miner.Preparation, error)
	CommitBlock(ctx context.Context, p *miner.CommitPayload) (*types.Block, core.AppendResult, error)
}

// PeerCounter reports gossip connectivity for the health endpoint.
type PeerCounter interface {
	PeerCount() int
}

// Config for the API server.
type Config struct {
	EnableMetrics bool
	// MaxDataSize mirrors the mining plaintext cap and sizes the request
	// body limit on the write endpoints. Zero falls back to the node
	// default.
	MaxDataSize int
}

// Server bundles the handlers.
type Server struct {
	store Store
	coord Coordinator
	peers PeerCounter
	cfg   Config
}

// NewServer wires the API against its backends.
func NewServer(store Store, coord Coordinator, peers PeerCounter, cfg Config) *Server {
	return &Server{store: store, coord: coord, peers: peers, cfg: cfg}
}

// Handler builds the routed, CORS wrapped handler. Mounted at the root;
// a fronting reverse proxy adds any path prefix.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/creators", s.listCreators)
	router.POST("/creators", s.registerCreator)
	// httprouter cannot mix the static stats path with the :name wildcard
	// in the same segment, so both go through one dispatcher.
	router.GET("/creators/:name/:action", s.creatorSubroute)

	router.GET("/blocks", s.listBlocks)
	router.POST("/blocks/prepare-mining", s.prepareMining)
	router.POST("/blocks/commit", s.commitBlock)
	router.GET("/blocks/stats/summary", s.chainStats)

	router.GET("/decrypt/blocks/:creator_id", s.decryptEnvelopes)
	router.GET("/health", s.health)

	if s.cfg.EnableMetrics {
		router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	}

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "no such route", nil)
	})
	return cors.Default().Handler(router)
}

// bodyOverhead covers the commit envelope around the hex encoded
// ciphertext: field names, wrapped key, signature and timestamps.
const bodyOverhead = 64 << 10

func (s *Server) maxBody() int64 {
	max := s.cfg.MaxDataSize
	if max <= 0 {
		max = params.DefaultMaxDataSize
	}
	// Hex encoding doubles the sealed payload.
	return int64(max)*2 + bodyOverhead
}

// decodeJSON decodes a bounded request body into v. Bodies past the
// limit fail the same way an oversized gossip frame would.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody())
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	dbStatus := "up"
	status := "ok"
	httpStatus := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		dbStatus = "down"
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	peerCount := 0
	if s.peers != nil {
		peerCount = s.peers.PeerCount()
	}
	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"blocks":    s.store.ChainLength(),
		"p2p_peers": peerCount,
		"version":   params.VersionWithMeta,
	})
}
