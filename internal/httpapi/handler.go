package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/discosat/satop-platform/internal/apierror"
)

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

type paramsKey struct{}

func paramsFromContext(ctx context.Context) httprouter.Params {
	p, _ := ctx.Value(paramsKey{}).(httprouter.Params)
	return p
}

// jsonResult is a handler's response before serialization: a status code
// (0 defaults to 200) and a body marshaled as JSON.
type jsonResult struct {
	status int
	body   any
}

func ok(body any) (jsonResult, error)      { return jsonResult{status: http.StatusOK, body: body}, nil }
func created(body any) (jsonResult, error) { return jsonResult{status: http.StatusCreated, body: body}, nil }
func noContent() (jsonResult, error)       { return jsonResult{status: http.StatusNoContent}, nil }

// jsonHandler is the contract every JSON route handler implements: decode
// params, return a result or an error, and let the caller serialize it.
type jsonHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (jsonResult, error)

// rawHandler is for routes that write their own response body (binary
// artifact download, custom headers on upload).
type rawHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params) error

func writeErr(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apierror.Status(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// asStdHandler adapts a jsonHandler, reading its httprouter.Params back out
// of the request context, into a plain net/http.Handler so it can pass
// through auth.RequireLogin/RequireScope middleware.
func asStdHandler(h jsonHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := h(w, r, paramsFromContext(r.Context()))
		if err != nil {
			writeErr(w, err)
			return
		}
		status := result.status
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, result.body)
	})
}

func asStdRawHandler(h rawHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r, paramsFromContext(r.Context())); err != nil {
			writeErr(w, err)
		}
	})
}

// makeHandler wires an unauthenticated jsonHandler directly as an
// httprouter.Handle. No route in NewServer uses it:
// /api/auth/refresh_token is registered as a plain httprouter.Handle that
// does its own bearer-refresh-token check.
func makeHandler(h jsonHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		asStdHandler(h).ServeHTTP(w, withParams(r, p))
	}
}

func withParams(r *http.Request, p httprouter.Params) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), paramsKey{}, p))
}

// withLogin wraps a jsonHandler with auth.RequireLogin, smuggling
// httprouter.Params through the request context since RequireLogin's
// middleware contract is plain net/http.
func (s *Server) withLogin(h jsonHandler) httprouter.Handle {
	wrapped := s.auth.RequireLogin(asStdHandler(h))
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		wrapped.ServeHTTP(w, withParams(r, p))
	}
}

func (s *Server) withScope(scope string, h jsonHandler) httprouter.Handle {
	wrapped := s.auth.RequireScope(scope)(asStdHandler(h))
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		wrapped.ServeHTTP(w, withParams(r, p))
	}
}

func (s *Server) withScopeRaw(scope string, h rawHandler) httprouter.Handle {
	wrapped := s.auth.RequireScope(scope)(asStdRawHandler(h))
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		wrapped.ServeHTTP(w, withParams(r, p))
	}
}
