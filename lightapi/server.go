// Package lightapi exposes the read-mostly HTTP surface a light client
// needs: spendable inputs, payment history, balance and the current
// last-ball pointer, plus a write path for submitting a locally authored
// joint (§9 "Light client HTTP API").
package lightapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"dagledger/core"
	"dagledger/node"
	"dagledger/p2p"
)

// Server answers light-client queries against a running core and forwards
// submitted joints to the gossip layer.
type Server struct {
	core      *core.Core
	mainChain *core.MainChainEngine
	business  *core.BusinessLedger
	bootstrap *node.Bootstrap
	log       *logrus.Logger
}

// New builds the HTTP handler. bootstrap may be nil if POST /joint should
// only submit locally without re-gossiping (e.g. in tests).
func New(c *core.Core, mc *core.MainChainEngine, bl *core.BusinessLedger, bs *node.Bootstrap, log *logrus.Logger) http.Handler {
	s := &Server{core: c, mainChain: mc, business: bl, bootstrap: bs, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/light/inputs/{address}", s.handleInputs)
	r.Get("/light/history/{address}", s.handleHistory)
	r.Get("/light/balance/{address}", s.handleBalance)
	r.Get("/light/last-ball", s.handleLastBall)
	r.Post("/joint", s.handlePostJoint)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type inputView struct {
	Unit         string `json:"unit"`
	MessageIndex int    `json:"message_index"`
	OutputIndex  int    `json:"output_index"`
	Amount       int64  `json:"amount"`
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	addr := core.Address(chi.URLParam(r, "address"))
	if !core.ValidateAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	outs := s.business.Stable.Outputs(addr)
	views := make([]inputView, len(outs))
	for i, o := range outs {
		views[i] = inputView{Unit: o.Unit, MessageIndex: o.MessageIndex, OutputIndex: o.OutputIndex, Amount: o.Amount}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	addr := core.Address(chi.URLParam(r, "address"))
	if !core.ValidateAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	writeJSON(w, http.StatusOK, s.business.Global.RelatedJoints(addr))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := core.Address(chi.URLParam(r, "address"))
	if !core.ValidateAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"stable": s.business.Stable.Balance(addr),
		"temp":   s.business.Temp.Balance(addr),
	})
}

func (s *Server) handleLastBall(w http.ResponseWriter, r *http.Request) {
	last := s.mainChain.LastStable()
	if last == nil {
		writeError(w, http.StatusServiceUnavailable, "no stable joint yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"unit": last.Hash,
		"ball": last.Joint.Ball,
		"mci":  last.Props().MCI,
	})
}

func (s *Server) handlePostJoint(w http.ResponseWriter, r *http.Request) {
	var payload jointPostBody
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	j := node.WireToJoint(payload.Joint)
	if err := s.core.SubmitJoint(j, "light-api"); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.bootstrap != nil {
		if err := s.bootstrap.BroadcastJoint(j); err != nil {
			s.log.WithError(err).Warn("lightapi: broadcast failed")
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"unit": j.Unit.UnitHash})
}

type jointPostBody struct {
	Joint p2p.JointPayload `json:"joint"`
}
