// Package api exposes the board over HTTP+JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/authz"
	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/hlog"
)

type (
	Options struct {
		// InsecureCookie drops the Secure attribute from the admin cookie,
		// for plain HTTP during local development.
		InsecureCookie bool
		Clock          func() time.Time
	}

	handlers struct {
		engine *authz.Engine
		realm  *SecurityRealm
		now    func() time.Time
	}

	passwordRequest struct {
		Password string `json:"password"`
	}

	createRequest struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Password string `json:"password"`
	}

	mutateRequest struct {
		Title     string `json:"title"`
		Content   string `json:"content"`
		Password  string `json:"password"`
		ViewToken string `json:"viewToken"`
	}
)

func AsHandler(ctx context.Context, engine *authz.Engine, opts Options) (http.Handler, error) {
	if engine == nil {
		return nil, errors.New("api: missing engine")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	h := &handlers{engine: engine, realm: NewRealm(opts.InsecureCookie), now: opts.Clock}

	router := httprouter.New()
	router.HandlerFunc("POST", "/login", h.login)
	router.HandlerFunc("POST", "/logout", h.logout)
	router.HandlerFunc("GET", "/admin/status", h.adminStatus)
	router.HandlerFunc("POST", "/posts", h.createPost)
	router.HandlerFunc("GET", "/posts/:id", h.getPost)
	router.HandlerFunc("POST", "/posts/:id/view", h.viewPost)
	router.HandlerFunc("PUT", "/posts/:id", h.updatePost)
	router.HandlerFunc("DELETE", "/posts/:id", h.deletePost)
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		writeError(w, r, board.Internal(fmt.Errorf("panic: %v", v)))
	}
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Error: &errorBody{Kind: board.KindNotFound.String(), Message: "no such route"}})
	})

	log := logutil.GetOrDefault(ctx).With().Str("component", "api").Logger()
	var handler http.Handler = router
	handler = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request")
	})(handler)
	handler = hlog.RequestIDHandler("req_id", "Request-Id")(handler)
	handler = hlog.NewHandler(log)(handler)
	return handler, nil
}

func postID(r *http.Request) string {
	return httprouter.ParamsFromContext(r.Context()).ByName("id")
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := readJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.engine.Login(r.Context(), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.realm.SetSession(w, session.Token, session.ExpiresAt, h.now())
	admin := true
	writeJSON(w, http.StatusOK, envelope{OK: true, Admin: &admin, ExpiresAt: &session.ExpiresAt})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	adminToken, err := h.adminToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.engine.Logout(r.Context(), adminToken); err != nil {
		writeError(w, r, err)
		return
	}
	h.realm.ClearSession(w)
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

func (h *handlers) adminStatus(w http.ResponseWriter, r *http.Request) {
	adminToken, err := h.adminToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	admin, err := h.engine.AdminStatus(r.Context(), adminToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Admin: &admin})
}

func (h *handlers) createPost(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := readJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.engine.CreatePost(r.Context(), authz.NewPost{Title: req.Title, Content: req.Content, Password: req.Password})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, withToken(envelope{OK: true, Post: res.Post.Summary()}, res))
}

func (h *handlers) getPost(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.GetPost(r.Context(), postID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true, Post: summary})
}

func (h *handlers) viewPost(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := readJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	adminToken, err := h.adminToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.engine.View(r.Context(), postID(r), authz.Credentials{
		AdminToken: adminToken,
		Password:   req.Password,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withToken(envelope{OK: true, Post: res.Post.Full()}, res))
}

func (h *handlers) updatePost(w http.ResponseWriter, r *http.Request) {
	var req mutateRequest
	if err := readJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	creds, err := h.credentials(r, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.engine.UpdatePost(r.Context(), postID(r), req.Title, req.Content, creds)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withToken(envelope{OK: true, Post: res.Post.Full()}, res))
}

func (h *handlers) deletePost(w http.ResponseWriter, r *http.Request) {
	var req mutateRequest
	if err := readJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	creds, err := h.credentials(r, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.engine.DeletePost(r.Context(), postID(r), creds); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{OK: true})
}

func (h *handlers) credentials(r *http.Request, req mutateRequest) (authz.Credentials, error) {
	adminToken, err := h.adminToken(r)
	if err != nil {
		return authz.Credentials{}, err
	}
	return authz.Credentials{
		AdminToken: adminToken,
		ViewToken:  req.ViewToken,
		Password:   req.Password,
	}, nil
}

// adminToken picks the admin token to authorize r with. When both a cookie
// and a bearer header are present the first one holding a live session
// wins.
func (h *handlers) adminToken(r *http.Request) (string, error) {
	candidates := h.realm.AdminTokens(r)
	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
		return candidates[0], nil
	}
	for _, tk := range candidates {
		ok, err := h.engine.AdminStatus(r.Context(), tk)
		if err != nil {
			return "", err
		}
		if ok {
			return tk, nil
		}
	}
	return candidates[0], nil
}

func withToken(env envelope, res authz.Result) envelope {
	if res.ViewToken != "" {
		env.ViewToken = res.ViewToken
		env.ViewTokenExpiresAt = &res.ViewTokenExpiresAt
	}
	return env
}
