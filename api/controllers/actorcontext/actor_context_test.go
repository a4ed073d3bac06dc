package actorcontext

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safmarket/saf-backend/api/middleware"
	"github.com/safmarket/saf-backend/pkg/enums"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

func TestResolveActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ResolveActor(req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	ctx := middleware.WithRole(middleware.WithUserID(req.Context(), "user-1"), string(enums.RoleAdmin))
	actor, err := ResolveActor(req.WithContext(ctx))
	require.NoError(t, err)
	assert.Equal(t, "user-1", actor.UserID)
	assert.True(t, actor.IsAdmin())

	ctx = middleware.WithRole(middleware.WithUserID(req.Context(), "user-1"), "root")
	_, err = ResolveActor(req.WithContext(ctx))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

func TestPathUUID(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("orderId", value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	got, err := PathUUID(withParam(id.String()), "orderId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = PathUUID(withParam("nope"), "orderId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = PathUUID(withParam(""), "orderId")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
