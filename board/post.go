// Package board holds the post model shared by the storage backends and the
// authorization engine.
package board

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/andrebq/lockboard/board/credential"
)

const (
	MaxTitleLength    = 200
	MaxContentLength  = 20_000
	MaxPasswordLength = 128
)

type (
	Post struct {
		ID         string
		Title      string
		Content    string
		Credential credential.Record
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// Summary is the part of a post anyone may read.
	Summary struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Full is returned only to authorized callers.
	Full struct {
		Summary
		Content string `json:"content"`
	}

	PostStore interface {
		GetPost(ctx context.Context, id string) (Post, error)
		CreatePost(ctx context.Context, p Post) error
		UpdatePost(ctx context.Context, id, title, content string, at time.Time) error
		DeletePost(ctx context.Context, id string) error
	}
)

func (p Post) Summary() Summary {
	return Summary{ID: p.ID, Title: p.Title, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt}
}

func (p Post) Full() Full {
	return Full{Summary: p.Summary(), Content: p.Content}
}

func ValidateTitle(title string) error {
	return validateLength("title", title, MaxTitleLength)
}

func ValidateContent(content string) error {
	return validateLength("content", content, MaxContentLength)
}

func ValidatePassword(password string) error {
	if password == "" {
		return ValidationError{Field: "password", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(password) > MaxPasswordLength {
		return ValidationError{Field: "password", Reason: "too long"}
	}
	return nil
}

func validateLength(field, value string, max int) error {
	if !utf8.ValidString(value) {
		return ValidationError{Field: field, Reason: "must be valid utf-8"}
	}
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: field, Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(value) > max {
		return ValidationError{Field: field, Reason: "too long"}
	}
	return nil
}
