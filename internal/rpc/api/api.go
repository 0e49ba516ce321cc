// Package api exposes the pipeline and the proposal ledger over REST.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/animus-coder/codevet/internal/extract"
	"github.com/animus-coder/codevet/internal/observability"
	"github.com/animus-coder/codevet/internal/pipeline"
	"github.com/animus-coder/codevet/internal/proposal"
	"github.com/animus-coder/codevet/internal/rpc"
)

// API holds the handlers' dependencies.
type API struct {
	Pipeline *pipeline.Pipeline
	Ledger   *proposal.Ledger
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// Routes mounts the pipeline and proposal endpoints on r.
func (a *API) Routes(r chi.Router) {
	r.Route("/pipeline", func(r chi.Router) {
		r.Post("/analyze", a.analyze)
		r.Post("/execute", a.execute)
	})
	r.Route("/proposals", func(r chi.Router) {
		r.Get("/", a.listProposals)
		r.Post("/", a.createProposal)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getProposal)
			r.Get("/diff", a.diffProposal)
			r.Post("/approve", a.transition(a.approve))
			r.Post("/reject", a.transition(a.reject))
			r.Post("/apply", a.transition(a.apply))
		})
	})
}

// Handler returns a standalone router with the API mounted at the root.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	a.Routes(r)
	return r
}

func (a *API) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

func (a *API) analyze(w http.ResponseWriter, r *http.Request) {
	if a.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	var req rpc.AnalyzeRequest
	if err := decode(r, &req); err != nil {
		a.Metrics.RecordTransportError("rest", "decode")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var frags []extract.Fragment
	switch {
	case strings.TrimSpace(req.Body) != "":
		frags = []extract.Fragment{{Language: req.Language, Body: req.Body}}
	case strings.TrimSpace(req.Text) != "":
		frags = extract.Extract(req.Text)
	default:
		writeError(w, http.StatusBadRequest, "text or body is required")
		return
	}

	reports, err := a.Pipeline.AnalyzeAll(r.Context(), frags)
	if err != nil {
		a.logger().Warn("analyze failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []pipeline.Report{}
	}
	writeJSON(w, http.StatusOK, rpc.AnalyzeResponse{Reports: reports})
}

func (a *API) execute(w http.ResponseWriter, r *http.Request) {
	if a.Pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	var req rpc.ExecuteRequest
	if err := decode(r, &req); err != nil {
		a.Metrics.RecordTransportError("rest", "decode")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	report, err := a.Pipeline.Execute(r.Context(), req.Text)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) listProposals(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	list := a.Ledger.List()
	if list == nil {
		list = []proposal.Proposal{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) createProposal(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	var req rpc.ProposalRequest
	if err := decode(r, &req); err != nil {
		a.Metrics.RecordTransportError("rest", "decode")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	op, err := proposal.ParseOperation(req.Operation)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := a.Ledger.Create(req.Path, req.Content, op)
	resp := rpc.ProposalResponse{Proposal: p}
	var conflict *proposal.ConflictError
	switch {
	case errors.As(err, &conflict):
		superseded := conflict.Superseded
		resp.Superseded = &superseded
	case err != nil:
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) getProposal(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	p, err := a.Ledger.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) diffProposal(w http.ResponseWriter, r *http.Request) {
	if !a.hasLedger(w) {
		return
	}
	id := chi.URLParam(r, "id")
	diff, err := a.Ledger.Preview(id)
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rpc.DiffResponse{ID: id, Diff: diff})
}

func (a *API) approve(id string) (proposal.Proposal, error) { return a.Ledger.Approve(id) }
func (a *API) reject(id string) (proposal.Proposal, error)  { return a.Ledger.Reject(id) }
func (a *API) apply(id string) (proposal.Proposal, error)   { return a.Ledger.Apply(id) }

func (a *API) transition(fn func(id string) (proposal.Proposal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.hasLedger(w) {
			return
		}
		id := chi.URLParam(r, "id")
		p, err := fn(id)
		if err != nil {
			a.logger().Info("proposal transition refused", zap.String("id", id), zap.Error(err))
			writeError(w, statusOf(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (a *API) hasLedger(w http.ResponseWriter) bool {
	if a.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "proposal ledger unavailable")
		return false
	}
	return true
}
