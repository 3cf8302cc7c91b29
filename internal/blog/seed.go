package blog

import (
	"context"
	"fmt"
	"time"

	"github.com/conduit-lang/japi/internal/orm/schema"
	"github.com/conduit-lang/japi/internal/orm/storage"
)

// Fixtures returns a small, linked data set with stable ids
func Fixtures() []any {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return []any{
		&User{ID: "1", Name: "Alice", Email: "alice@example.com", CreatedAt: created, PostIDs: []string{"1", "2"}},
		&User{ID: "2", Name: "Bob", Email: "bob@example.com", CreatedAt: created, PostIDs: []string{}},
		&Admin{User: User{ID: "3", Name: "Carol", Email: "carol@example.com", CreatedAt: created, PostIDs: []string{"3"}}, Level: 2},
		&Post{ID: "1", Title: "Hello", Body: "First post", Tags: []string{"intro"}, Published: true, Views: 10, AuthorID: "1", AuthorType: TypeUser, CommentIDs: []string{"1", "2"}},
		&Post{ID: "2", Title: "Draft", Body: "Unfinished", Tags: []string{}, Views: 0, AuthorID: "1", AuthorType: TypeUser, CommentIDs: []string{}},
		&Post{ID: "3", Title: "Rules", Body: "Be nice", Tags: []string{"meta", "intro"}, Published: true, Views: 42, AuthorID: "3", AuthorType: TypeAdmin, CommentIDs: []string{"3"}},
		&Comment{ID: "1", Text: "Welcome!", AuthorID: "2", AuthorType: TypeUser, PostID: "1"},
		&Comment{ID: "2", Text: "Thanks", AuthorID: "1", AuthorType: TypeUser, PostID: "1"},
		&Comment{ID: "3", Text: "Noted", AuthorID: "2", AuthorType: TypeUser, PostID: "3"},
	}
}

// Seed stores the fixtures unless the backend already holds users
func Seed(ctx context.Context, registry *schema.Registry, adapter storage.Adapter) (int, error) {
	session, err := storage.Open(ctx, registry, adapter)
	if err != nil {
		return 0, err
	}
	defer session.Close(ctx)

	existing, err := session.QuerySize(ctx, TypeUser, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	fixtures := Fixtures()
	if err := session.Save(ctx, fixtures...); err != nil {
		return 0, fmt.Errorf("failed to stage fixtures: %w", err)
	}
	if err := session.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit fixtures: %w", err)
	}
	return len(fixtures), nil
}
