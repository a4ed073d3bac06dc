package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/safmarket/saf-backend/api/responses"
	"github.com/safmarket/saf-backend/internal/certificates"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
)

type certificateVerifier interface {
	Verify(ctx context.Context, number string) (*certificates.Verification, error)
}

// VerifyCertificate is the public lookup for a certificate number.
func VerifyCertificate(svc certificateVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "certificate service unavailable"))
			return
		}
		result, err := svc.Verify(r.Context(), chi.URLParam(r, "number"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
