package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AlexKimmel/GateGuard/internal/routing"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("outer"), nil, mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestStatusRecorder_DefaultsTo200(t *testing.T) {
	rec := NewStatusRecorder(httptest.NewRecorder())
	_, _ = rec.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, rec.Status())
	assert.Equal(t, 2, rec.Bytes())

	rec = NewStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusForbidden)
	assert.Equal(t, http.StatusForbidden, rec.Status())
}

func TestRouteMatcher_NoRoute(t *testing.T) {
	rr := routing.New()
	rr.Add(&routing.Route{ID: "login", Prefix: "/auth/login", Methods: map[string]struct{}{http.MethodPost: {}}})

	var matched string
	h := RouteMatcher(rr, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, _ := routing.RouteFrom(r)
		matched = rt.ID
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":{"code":"no_route","message":"no matching route"}}`, w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
	assert.Equal(t, "login", matched)
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long"))
	r.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Error(t, readErr)

	readErr = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))
	assert.NoError(t, readErr)
}
