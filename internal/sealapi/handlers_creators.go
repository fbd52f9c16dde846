package sealapi

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

type creatorView struct {
	CreatorID    string    `json:"creator_id"`
	DisplayName  string    `json:"display_name"`
	KeySize      int       `json:"key_size"`
	KeyAlgorithm string    `json:"key_algorithm"`
	CreatedAt    time.Time `json:"created_at"`
	BlockCount   int       `json:"block_count"`
}

func (s *Server) listCreators(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	infos, err := s.store.Creators(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]creatorView, 0, len(infos))
	for _, info := range infos {
		views = append(views, creatorView{
			CreatorID:    info.Creator.ID.String(),
			DisplayName:  info.Creator.DisplayName,
			KeySize:      info.Creator.KeyBits(),
			KeyAlgorithm: "RSA",
			CreatedAt:    info.Creator.CreatedAt,
			BlockCount:   info.BlockCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"creators": views})
}

type registerCreatorRequest struct {
	DisplayName  string `json:"display_name"`
	PublicKeyPEM string `json:"public_key_pem"`
}

func (s *Server) registerCreator(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req registerCreatorRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeBodyError(w, err)
		return
	}
	creator, err := s.store.RegisterCreator(r.Context(), req.DisplayName, req.PublicKeyPEM)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	log.WithField("display_name", creator.DisplayName).Info("Creator registered")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"creator_id":   creator.ID.String(),
		"display_name": creator.DisplayName,
		"key_size":     creator.KeyBits(),
		"created_at":   creator.CreatedAt,
	})
}

// creatorSubroute dispatches /creators/stats/summary and
// /creators/{name}/public-key, which share a routing segment.
func (s *Server) creatorSubroute(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name, action := ps.ByName("name"), ps.ByName("action")
	switch {
	case name == "stats" && action == "summary":
		s.creatorStats(w, r)
	case action == "public-key":
		s.creatorPublicKey(w, r, name)
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, "no such route", nil)
	}
}

func (s *Server) creatorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CreatorStatsSummary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (s *Server) creatorPublicKey(w http.ResponseWriter, r *http.Request, name string) {
	creator, err := s.store.CreatorByName(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"creator_id":     creator.ID.String(),
		"public_key_pem": creator.PublicKeyPEM,
	})
}
