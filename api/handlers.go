/*
handlers.go - HTTP handlers

PURPOSE:
  Thin translation between wire shapes and the engine/services. Handlers
  decode, call, map errors, encode; no business rules live here.
*/
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/openpcr/caseflow/atrocity"
	"github.com/openpcr/caseflow/marriage"
	"github.com/openpcr/caseflow/workflow"
)

// =============================================================================
// AUTH
// =============================================================================

// handleLogin is the demo stand-in for the external identity provider. A
// production deployment replaces this with real credential verification.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ActorID == "" || req.Role == "" {
		s.writeError(w, r, &workflow.ValidationError{Field: "actor_id/role", Message: "required"})
		return
	}
	token, err := s.auth.Issue(workflow.Actor{
		ID:   req.ActorID,
		Role: workflow.Role(req.Role),
		Jurisdiction: workflow.Jurisdiction{
			Region:    req.Region,
			SubRegion: req.SubRegion,
			Station:   req.Station,
		},
	})
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: issuing token: %v", workflow.ErrStorage, err))
		return
	}
	s.writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

// =============================================================================
// CASES
// =============================================================================

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	caseType := chi.URLParam(r, "type")
	actor := actorFrom(r)

	var req submitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		res *workflow.SubmitResult
		err error
	)
	switch caseType {
	case "atrocity":
		res, err = s.atrocity.Submit(r.Context(), atrocity.SubmitInput{
			Actor:     actor,
			FIRNumber: req.FIRNumber,
			Draft:     req.Draft,
			Fields:    req.Fields,
			FileRefs:  req.FileRefs,
		})
	case "marriage":
		res, err = s.marriage.Submit(r.Context(), marriage.SubmitInput{
			Actor:    actor,
			PartnerA: req.PartnerA,
			PartnerB: req.PartnerB,
			Draft:    req.Draft,
			Fields:   req.Fields,
			FileRefs: req.FileRefs,
		})
	default:
		s.writeError(w, r, workflow.ErrCaseNotFound)
		return
	}
	s.metrics.observe(caseType, "submit", err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, submitResponse{
		CaseID:      string(res.CaseID),
		Stage:       res.Stage,
		PendingRole: string(res.PendingRole),
		Status:      string(res.Status),
		Created:     res.Created,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(chi.URLParam(r, "type"))
	if !ok {
		s.writeError(w, r, workflow.ErrCaseNotFound)
		return
	}
	cases, err := eng.ListCases(r.Context(), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]caseResponse, 0, len(cases))
	for _, c := range cases {
		out = append(out, toCaseResponse(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(chi.URLParam(r, "type"))
	if !ok {
		s.writeError(w, r, workflow.ErrCaseNotFound)
		return
	}
	c, err := eng.GetCase(r.Context(), workflow.CaseID(chi.URLParam(r, "id")), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toCaseResponse(c))
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engineFor(chi.URLParam(r, "type"))
	if !ok {
		s.writeError(w, r, workflow.ErrCaseNotFound)
		return
	}
	events, err := eng.Timeline(r.Context(), workflow.CaseID(chi.URLParam(r, "id")), actorFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, workflow.ActionApprove, func(tr *workflow.TransitionRequest) {
		tr.Approval = &workflow.ApprovalPayload{
			Comment:       req.Comment,
			ApprovedTotal: req.ApprovedTotal,
		}
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, workflow.ActionReject, func(tr *workflow.TransitionRequest) {
		tr.Rejection = &workflow.RejectionPayload{Reason: req.Reason}
	})
}

func (s *Server) handleRequestCorrection(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, workflow.ActionRequestCorrection, func(tr *workflow.TransitionRequest) {
		tr.Correction = &workflow.CorrectionPayload{
			CorrectionsRequired: req.CorrectionsRequired,
			Comment:             req.Comment,
		}
	})
}

func (s *Server) handleDisburse(w http.ResponseWriter, r *http.Request) {
	var req disburseRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, workflow.ActionDisburse, func(tr *workflow.TransitionRequest) {
		tr.Disbursement = &workflow.DisbursementPayload{
			Amount:         req.Amount,
			PercentOfTotal: req.PercentOfTotal,
			TransactionID:  req.TransactionID,
			BankRef:        req.BankRef,
		}
	})
}

func (s *Server) handleRecordDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.transition(w, r, workflow.ActionRecordDecision, func(tr *workflow.TransitionRequest) {
		tr.Decision = &workflow.DecisionPayload{
			Verdict:  req.Verdict,
			CourtRef: req.CourtRef,
			Comment:  req.Comment,
		}
	})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, action workflow.Action, fill func(*workflow.TransitionRequest)) {
	caseType := chi.URLParam(r, "type")
	eng, ok := s.engineFor(caseType)
	if !ok {
		s.writeError(w, r, workflow.ErrCaseNotFound)
		return
	}
	tr := workflow.TransitionRequest{
		CaseID: workflow.CaseID(chi.URLParam(r, "id")),
		Actor:  actorFrom(r),
		Action: action,
	}
	fill(&tr)

	res, err := eng.Transition(r.Context(), tr)
	s.metrics.observe(caseType, string(action), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transitionResponse{
		CaseID:      string(res.CaseID),
		Stage:       res.Stage,
		PendingRole: string(res.PendingRole),
		Status:      string(res.Status),
		EventType:   string(res.EventType),
	})
}

func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	caseType := chi.URLParam(r, "type")
	eng, ok := s.engineFor(caseType)
	if !ok {
		s.writeError(w, r, workflow.ErrCaseNotFound)
		return
	}
	var req resubmitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := eng.Resubmit(r.Context(), workflow.ResubmitRequest{
		CaseID:   workflow.CaseID(chi.URLParam(r, "id")),
		Actor:    actorFrom(r),
		Fields:   req.Fields,
		FileRefs: req.FileRefs,
	})
	s.metrics.observe(caseType, string(workflow.ActionResubmit), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resubmitResponse{
		CaseID:        string(res.CaseID),
		Stage:         res.Stage,
		PendingRole:   string(res.PendingRole),
		Status:        string(res.Status),
		FieldsUpdated: res.FieldsUpdated,
		FilesUpdated:  res.FilesUpdated,
	})
}

// =============================================================================
// TREASURY
// =============================================================================

func (s *Server) handleTreasuryCredit(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != workflow.RoleStateNodalOfficer {
		s.writeError(w, r, workflow.ErrForbidden)
		return
	}
	var req creditRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.SubRegion == "" {
		s.writeError(w, r, &workflow.ValidationError{Field: "sub_region", Message: "required"})
		return
	}
	pool := workflow.Jurisdiction{Region: actor.Jurisdiction.Region, SubRegion: req.SubRegion}
	if err := s.treasury.Credit(r.Context(), pool, req.Amount, req.Ref); err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.treasury.Balance(r.Context(), pool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{
		Region:    pool.Region,
		SubRegion: pool.SubRegion,
		Balance:   balance,
	})
}

func (s *Server) handleTreasuryBalance(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	pool := workflow.Jurisdiction{
		Region:    actor.Jurisdiction.Region,
		SubRegion: actor.Jurisdiction.SubRegion,
	}
	if sub := r.URL.Query().Get("sub_region"); sub != "" {
		pool.SubRegion = sub
	}
	balance, err := s.treasury.Balance(r.Context(), pool)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{
		Region:    pool.Region,
		SubRegion: pool.SubRegion,
		Balance:   balance,
	})
}

// =============================================================================
// FILES
// =============================================================================

func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, &workflow.ValidationError{Field: "file", Message: "multipart field required"})
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = "document"
	}
	ref, err := s.blobs.Put(r.Context(), name, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fileResponse{Ref: ref})
}

func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "*")
	body, contentType, err := s.blobs.Get(r.Context(), ref)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer body.Close()
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

// =============================================================================
// HELPERS
// =============================================================================

func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return &workflow.ValidationError{Field: "body", Message: "required"}
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return &workflow.ValidationError{Field: "body", Message: "malformed JSON"}
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, msg := classify(err)
	requestID := middleware.GetReqID(r.Context())
	if status >= 500 {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("request failed")
	}
	s.writeJSON(w, status, errorBody{Error: kind, Message: msg, RequestID: requestID})
}
