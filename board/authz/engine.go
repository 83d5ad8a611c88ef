// Package authz decides who may read, edit and delete a post.
//
// Every mutating request presents some mix of an admin session token, a
// per-post view token and the post password. The engine evaluates them
// lazily in precedence order and hands the facts to Policy.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andrebq/lockboard/board"
	"github.com/andrebq/lockboard/board/credential"
	"github.com/andrebq/lockboard/board/token"
	"github.com/andrebq/lockboard/board/tokenstore"
	"github.com/andrebq/lockboard/internal/logutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultViewTTL  = time.Hour
	DefaultAdminTTL = 24 * time.Hour
)

type (
	Config struct {
		ViewTTL  time.Duration
		AdminTTL time.Duration
		// Hasher is used for new posts. The zero value means
		// credential.Default().
		Hasher credential.Hasher
		// AdminCredential is the hashed admin password. When empty every
		// login attempt fails.
		AdminCredential credential.Record
		Clock           func() time.Time
		NewID           func() string
	}

	Engine struct {
		posts  board.PostStore
		tokens tokenstore.Store
		codec  *token.Codec
		cfg    Config
	}

	Credentials struct {
		AdminToken string
		ViewToken  string
		Password   string
	}

	NewPost struct {
		Title    string
		Content  string
		Password string
	}

	Result struct {
		Post     board.Post
		Decision Decision
		// ViewToken is set only when a password was exchanged for a new
		// token. It is handed to the client once.
		ViewToken          string
		ViewTokenExpiresAt time.Time
	}

	AdminSession struct {
		Token     string
		ExpiresAt time.Time
	}
)

func New(posts board.PostStore, tokens tokenstore.Store, codec *token.Codec, cfg Config) (*Engine, error) {
	if posts == nil || tokens == nil || codec == nil {
		return nil, errors.New("authz: posts, tokens and codec are required")
	}
	if cfg.ViewTTL <= 0 {
		cfg.ViewTTL = DefaultViewTTL
	}
	if cfg.AdminTTL <= 0 {
		cfg.AdminTTL = DefaultAdminTTL
	}
	if cfg.Hasher.Iterations == 0 {
		cfg.Hasher = credential.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{posts: posts, tokens: tokens, codec: codec, cfg: cfg}, nil
}

func (e *Engine) now() time.Time {
	return e.cfg.Clock().UTC()
}

func (e *Engine) CreatePost(ctx context.Context, np NewPost) (Result, error) {
	if err := board.ValidateTitle(np.Title); err != nil {
		return Result{}, err
	}
	if err := board.ValidateContent(np.Content); err != nil {
		return Result{}, err
	}
	if err := board.ValidatePassword(np.Password); err != nil {
		return Result{}, err
	}
	rec, err := e.cfg.Hasher.MakeRecord(np.Password)
	if err != nil {
		return Result{}, board.Internal(err)
	}
	now := e.now()
	p := board.Post{
		ID:         e.cfg.NewID(),
		Title:      np.Title,
		Content:    np.Content,
		Credential: rec,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.posts.CreatePost(ctx, p); err != nil {
		return Result{}, err
	}
	log := logutil.GetOrDefault(ctx)
	res := Result{Post: p, Decision: Decision{Outcome: OutcomePassword}}
	if err := e.mint(ctx, &res); err != nil {
		// the author never learns the id, so the post must not survive
		if rerr := e.posts.DeletePost(ctx, p.ID); rerr != nil {
			log.Error().Err(rerr).Str("post", p.ID).Msg("Unable to roll back post after token failure")
		}
		return Result{}, err
	}
	log.Info().Str("post", p.ID).Msg("Post created")
	return res, nil
}

// GetPost returns the public part of a post.
func (e *Engine) GetPost(ctx context.Context, id string) (board.Summary, error) {
	id, ok := canonicalID(id)
	if !ok {
		return board.Summary{}, board.NotFoundError{PostID: id}
	}
	p, err := e.posts.GetPost(ctx, id)
	if err != nil {
		return board.Summary{}, err
	}
	return p.Summary(), nil
}

// View exchanges the post password for its content and a fresh view token.
// Admins get the content without a password and without a token.
func (e *Engine) View(ctx context.Context, id string, creds Credentials) (Result, error) {
	creds.ViewToken = ""
	res, err := e.authorize(ctx, id, creds)
	if err != nil {
		return Result{}, err
	}
	if res.Decision.Outcome == OutcomePassword {
		if err := e.mint(ctx, &res); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

func (e *Engine) UpdatePost(ctx context.Context, id, title, content string, creds Credentials) (Result, error) {
	if err := board.ValidateTitle(title); err != nil {
		return Result{}, err
	}
	if err := board.ValidateContent(content); err != nil {
		return Result{}, err
	}
	res, err := e.authorize(ctx, id, creds)
	if err != nil {
		return Result{}, err
	}
	now := e.now()
	if err := e.posts.UpdatePost(ctx, res.Post.ID, title, content, now); err != nil {
		return Result{}, err
	}
	res.Post.Title = title
	res.Post.Content = content
	res.Post.UpdatedAt = now
	if res.Decision.Outcome == OutcomePassword {
		// the edit is committed; a missing token only costs the caller
		// another password prompt
		if err := e.mint(ctx, &res); err != nil {
			log := logutil.GetOrDefault(ctx)
			log.Warn().Err(err).Str("post", res.Post.ID).Msg("Post updated without a new view token")
		}
	}
	return res, nil
}

// DeletePost removes the post and then every token bound to it.
func (e *Engine) DeletePost(ctx context.Context, id string, creds Credentials) (Decision, error) {
	res, err := e.authorize(ctx, id, creds)
	if err != nil {
		return Decision{}, err
	}
	if err := e.posts.DeletePost(ctx, res.Post.ID); err != nil {
		return Decision{}, err
	}
	log := logutil.GetOrDefault(ctx)
	// tokens of a deleted post cannot authorize anything, the sweep
	// removes whatever is left behind
	if err := e.tokens.DeleteByPost(ctx, res.Post.ID); err != nil {
		log.Warn().Err(err).Str("post", res.Post.ID).Msg("Unable to remove tokens of deleted post")
	}
	log.Info().Str("post", res.Post.ID).Stringer("outcome", res.Decision.Outcome).Msg("Post deleted")
	return res.Decision, nil
}

// Login exchanges the admin password for an admin session token.
func (e *Engine) Login(ctx context.Context, password string) (AdminSession, error) {
	if err := board.ValidatePassword(password); err != nil {
		return AdminSession{}, err
	}
	if e.cfg.AdminCredential.Hash == "" {
		credential.Verify(password, credential.Record{})
		return AdminSession{}, board.AuthenticationError{}
	}
	log := logutil.GetOrDefault(ctx)
	if !credential.Verify(password, e.cfg.AdminCredential) {
		log.Debug().Msg("Admin login rejected")
		return AdminSession{}, board.AuthenticationError{}
	}
	issued, err := e.codec.Issue()
	if err != nil {
		return AdminSession{}, board.Internal(err)
	}
	now := e.now()
	rec := tokenstore.Record{
		Hash:      issued.Hash,
		Salt:      issued.Salt,
		Kind:      tokenstore.KindAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.AdminTTL),
	}
	if err := e.tokens.Put(ctx, rec); err != nil {
		return AdminSession{}, err
	}
	log.Info().Time("expiresAt", rec.ExpiresAt).Msg("Admin session started")
	return AdminSession{Token: issued.Bearer(), ExpiresAt: rec.ExpiresAt}, nil
}

// Logout drops the admin session. Unknown or malformed tokens are ignored.
func (e *Engine) Logout(ctx context.Context, adminToken string) error {
	rec, ok, err := e.adminRecord(ctx, adminToken)
	if err != nil || !ok {
		return err
	}
	return e.tokens.Delete(ctx, rec.Hash)
}

func (e *Engine) AdminStatus(ctx context.Context, adminToken string) (bool, error) {
	_, ok, err := e.adminRecord(ctx, adminToken)
	return ok, err
}

// SweepExpired removes tokens that can no longer be used.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	n, err := e.tokens.DeleteExpired(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log := logutil.GetOrDefault(ctx)
		log.Debug().Int("removed", n).Msg("Expired tokens removed")
	}
	return n, nil
}

func (e *Engine) authorize(ctx context.Context, id string, creds Credentials) (Result, error) {
	log := logutil.GetOrDefault(ctx)
	if creds.Password != "" {
		if err := board.ValidatePassword(creds.Password); err != nil {
			return Result{}, err
		}
	}
	var facts Facts
	_, admin, err := e.adminRecord(ctx, creds.AdminToken)
	if err != nil {
		return Result{}, err
	}
	facts.AdminValid = admin

	post, err := e.loadPost(ctx, id)
	var notFound board.NotFoundError
	if errors.As(err, &notFound) {
		return Result{}, e.missingPost(log, id, creds, admin)
	} else if err != nil {
		return Result{}, err
	}

	if !facts.AdminValid && creds.ViewToken != "" {
		facts.ViewTokenPresented = true
		facts.ViewTokenValid, err = e.validViewToken(ctx, post.ID, creds.ViewToken)
		if err != nil {
			return Result{}, err
		}
	}
	if !facts.AdminValid && !facts.ViewTokenValid && creds.Password != "" {
		facts.PasswordPresented = true
		facts.PasswordValid = credential.Verify(creds.Password, post.Credential)
	}

	decision := Policy(facts)
	logDecision(log, post.ID, decision)
	if !decision.Allowed() {
		return Result{}, board.AuthenticationError{}
	}
	return Result{Post: post, Decision: decision}, nil
}

// missingPost resolves requests for posts that do not exist. Callers that
// proved some identity (admin, or a well formed view token) learn the post
// is gone. Everyone else gets the same answer as a wrong password, after
// the same amount of work.
func (e *Engine) missingPost(log zerolog.Logger, id string, creds Credentials, admin bool) error {
	if admin {
		return board.NotFoundError{PostID: id}
	}
	if creds.ViewToken != "" {
		if _, _, ok := token.Parse(creds.ViewToken); ok {
			return board.NotFoundError{PostID: id}
		}
	}
	credential.Verify(creds.Password, credential.Record{})
	logDecision(log, id, Policy(Facts{
		ViewTokenPresented: creds.ViewToken != "",
		PasswordPresented:  creds.Password != "",
	}))
	return board.AuthenticationError{}
}

func (e *Engine) loadPost(ctx context.Context, id string) (board.Post, error) {
	canonical, ok := canonicalID(id)
	if !ok {
		return board.Post{}, board.NotFoundError{PostID: id}
	}
	return e.posts.GetPost(ctx, canonical)
}

func (e *Engine) adminRecord(ctx context.Context, presented string) (tokenstore.Record, bool, error) {
	return e.lookupToken(ctx, presented, tokenstore.IsAdmin)
}

func (e *Engine) validViewToken(ctx context.Context, postID, presented string) (bool, error) {
	_, ok, err := e.lookupToken(ctx, presented, tokenstore.ForPost(postID))
	return ok, err
}

func (e *Engine) lookupToken(ctx context.Context, presented string, match func(tokenstore.Record) bool) (tokenstore.Record, bool, error) {
	if presented == "" {
		return tokenstore.Record{}, false, nil
	}
	hash, ok := e.codec.HashOf(presented)
	if !ok {
		return tokenstore.Record{}, false, nil
	}
	rec, err := e.tokens.LookupByHash(ctx, hash, match)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return tokenstore.Record{}, false, nil
	} else if err != nil {
		return tokenstore.Record{}, false, err
	}
	if rec.Expired(e.now()) || !e.codec.Verify(presented, rec.Hash, rec.Salt) {
		return tokenstore.Record{}, false, nil
	}
	return rec, true, nil
}

func (e *Engine) mint(ctx context.Context, res *Result) error {
	issued, err := e.codec.Issue()
	if err != nil {
		return board.Internal(err)
	}
	now := e.now()
	rec := tokenstore.Record{
		Hash:      issued.Hash,
		Salt:      issued.Salt,
		Kind:      tokenstore.KindView,
		PostID:    res.Post.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.ViewTTL),
	}
	if err := e.tokens.Put(ctx, rec); err != nil {
		return fmt.Errorf("authz: unable to store view token, cause %w", err)
	}
	res.ViewToken = issued.Bearer()
	res.ViewTokenExpiresAt = rec.ExpiresAt
	return nil
}

func canonicalID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return id, false
	}
	return u.String(), true
}

func logDecision(log zerolog.Logger, postID string, d Decision) {
	ev := log.Debug().Str("post", postID).Stringer("outcome", d.Outcome)
	if !d.Allowed() {
		ev = ev.Stringer("reason", d.Reason)
	}
	ev.Msg("Authorization decision")
}
