package handler

import (
	"net/http"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-storefront/internal/domain/apperr"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:    http.StatusBadRequest,
	apperr.KindNotFound:      http.StatusNotFound,
	apperr.KindForbidden:     http.StatusForbidden,
	apperr.KindConflict:      http.StatusConflict,
	apperr.KindPaymentFailed: http.StatusPaymentRequired,
	apperr.KindUpstream:      http.StatusBadGateway,
	apperr.KindTimeout:       http.StatusGatewayTimeout,
	apperr.KindInternal:      http.StatusInternalServerError,
}

// StatusOf maps a domain error to its HTTP status.
func StatusOf(err error) int {
	if s, ok := kindStatus[apperr.KindOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"code","error","message"}. Internal and
// upstream failures are logged with their full chain; clients only see the
// categorised message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusOf(err)

	lg := zctx.From(r.Context())
	switch kind {
	case apperr.KindInternal:
		lg.Error("Request failed", zap.Error(err))
	case apperr.KindUpstream, apperr.KindTimeout:
		lg.Warn("Upstream failure", zap.Error(err))
	}

	writeProblem(w, status, string(kind), apperr.Message(err))
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(status) })
			strField(e, "error", kind)
			strField(e, "message", msg)
		})
	})
}
