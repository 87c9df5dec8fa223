package triageapi

import (
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/soctriage/internal/triage"
)

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	req, err := triage.DecodeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", errorDetail(err))
		return
	}

	res, err := a.svc.Triage(r.Context(), req)
	if errors.Is(err, triage.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, "invalid request", errorDetail(err))
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "triage failed")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("soctriage.trace_id", res.TraceID),
		attribute.String("soctriage.category", string(res.Category)),
	)
	writeJSON(w, http.StatusOK, res)
}

// errorDetail strips the sentinel prefix from validation errors.
func errorDetail(err error) string {
	return strings.TrimPrefix(err.Error(), triage.ErrInvalidRequest.Error()+": ")
}
