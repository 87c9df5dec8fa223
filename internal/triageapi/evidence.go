package triageapi

import (
	"errors"
	"net/http"

	"github.com/linnemanlabs/soctriage/internal/triage"
)

func (a *API) handleEvidence(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	req, err := triage.DecodeEvidenceRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", errorDetail(err))
		return
	}

	ev, err := a.svc.Evidence(r.Context(), req)
	if errors.Is(err, triage.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, "invalid request", errorDetail(err))
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "evidence lookup failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
