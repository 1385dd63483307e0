package api

import (
	"net/http"
)

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.components().firewall.List(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rules)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req addRuleRequest
	if !decodeJSON(w, r, &req, "Chain and rule are required") {
		return
	}
	annotate(r, "chain", req.Chain)
	annotate(r, "rule", req.Rule)

	if err := s.components().firewall.Add(r.Context(), req.Chain, req.Rule); err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resultResponse{Success: true, Message: "Rule added successfully"})
}

// handleRemoveRule deletes by fingerprint when one is given, otherwise by
// position.
func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	var req removeRuleRequest
	if !decodeJSON(w, r, &req, "Chain and rule number are required") {
		return
	}
	annotate(r, "chain", req.Chain)

	fw := s.components().firewall
	var err error
	if req.Fingerprint != "" {
		annotate(r, "fingerprint", req.Fingerprint)
		err = fw.RemoveByFingerprint(r.Context(), req.Chain, req.Fingerprint)
	} else {
		annotate(r, "ruleNumber", int(req.RuleNumber))
		err = fw.Remove(r.Context(), req.Chain, int(req.RuleNumber))
	}
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, resultResponse{Success: true, Message: "Rule removed successfully"})
}
