package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wizard254-ux/gabbage-web-sub000/generic"
)

// echo records the principal the middleware passed on.
func echo(got *Principal, actor *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got, _ = FromContext(r.Context())
		*actor = generic.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/stock", nil)
	mutate(req)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestToken_RoundTrip(t *testing.T) {
	// GIVEN: A token issued for org-1 / user-7
	a := New("s3cret")
	token, err := a.IssueToken(Principal{OrganizationID: "org-1", ActorID: "user-7", Role: "admin"}, time.Hour)
	require.NoError(t, err)

	// WHEN: It is presented as a bearer token
	var got Principal
	var actor string
	rec := serve(a.Middleware(echo(&got, &actor)), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})

	// THEN: The handler sees the principal and the journal actor
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Principal{OrganizationID: "org-1", ActorID: "user-7", Role: "admin"}, got)
	assert.Equal(t, "user-7", actor)
}

func TestToken_Rejections(t *testing.T) {
	a := New("s3cret")
	other, err := New("other").IssueToken(Principal{OrganizationID: "org-1", ActorID: "u"}, time.Hour)
	require.NoError(t, err)
	expired, err := a.IssueToken(Principal{OrganizationID: "org-1", ActorID: "u"}, -time.Minute)
	require.NoError(t, err)
	noOrg, err := a.IssueToken(Principal{ActorID: "u"}, time.Hour)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"not bearer":   "Basic dXNlcjpwYXNz",
		"wrong secret": "Bearer " + other,
		"expired":      "Bearer " + expired,
		"no org":       "Bearer " + noOrg,
		"garbage":      "Bearer not.a.token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			called := false
			h := a.Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
			rec := serve(h, func(r *http.Request) {
				if header != "" {
					r.Header.Set("Authorization", header)
				}
			})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)
			assert.False(t, called)
		})
	}
}

func TestHeaderMode(t *testing.T) {
	a := New("")
	require.True(t, a.HeaderMode())
	_, err := a.IssueToken(Principal{OrganizationID: "org-1"}, time.Hour)
	assert.Error(t, err)

	var got Principal
	var actor string
	rec := serve(a.Middleware(echo(&got, &actor)), func(r *http.Request) {
		r.Header.Set(HeaderOrganization, "org-9")
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, Principal{OrganizationID: "org-9"}, got)
	assert.Equal(t, "system", actor, "no actor header falls back to system")

	rec = serve(a.Middleware(echo(&got, &actor)), func(*http.Request) {})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
