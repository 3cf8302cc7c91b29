// Package blog is the demo domain served by the japi binary: users,
// admins, posts and comments. Tests across the module use it as fixture.
package blog

import (
	"fmt"
	"time"

	"github.com/conduit-lang/japi/internal/orm/schema"
)

// Typenames of the demo resources
const (
	TypeUser    = "User"
	TypeAdmin   = "Admin"
	TypePost    = "Post"
	TypeComment = "Comment"
)

// identified is implemented by every demo resource
type identified interface {
	ResourceID() string
	TypeName() string
}

// User is an author of posts and comments
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	PostIDs   []string  `json:"post_ids"`
}

// TypeName implements schema.TypeNamer
func (u *User) TypeName() string { return TypeUser }

// ResourceID returns the id
func (u *User) ResourceID() string { return u.ID }

// Admin is a User with elevated rights
type Admin struct {
	User
	Level int `json:"level"`
}

// TypeName implements schema.TypeNamer
func (a *Admin) TypeName() string { return TypeAdmin }

// Post is a blog article
type Post struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags"`
	Published  bool     `json:"published"`
	Views      int      `json:"views"`
	AuthorID   string   `json:"author_id"`
	AuthorType string   `json:"author_type"`
	CommentIDs []string `json:"comment_ids"`
}

// TypeName implements schema.TypeNamer
func (p *Post) TypeName() string { return TypePost }

// ResourceID returns the id
func (p *Post) ResourceID() string { return p.ID }

// Comment is a reply to a post
type Comment struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AuthorID   string `json:"author_id"`
	AuthorType string `json:"author_type"`
	PostID     string `json:"post_id"`
}

// TypeName implements schema.TypeNamer
func (c *Comment) TypeName() string { return TypeComment }

// ResourceID returns the id
func (c *Comment) ResourceID() string { return c.ID }

// Now is the clock used for creation timestamps
var Now = func() time.Time { return time.Now().UTC().Truncate(time.Second) }

func ids(relatives []identified) []string {
	out := make([]string, len(relatives))
	for i, r := range relatives {
		out[i] = r.ResourceID()
	}
	return out
}

func idOf(r identified) string {
	if r == nil {
		return ""
	}
	return r.ResourceID()
}

// refOf returns the id and concrete typename of a relative, so linkage
// to an Admin says Admin and not User
func refOf(r identified) (id, typename string) {
	if r == nil {
		return "", ""
	}
	return r.ResourceID(), r.TypeName()
}

// authorRef returns the identifier of an author. Authors stored without
// a typename are plain users.
func authorRef(typename, id string) any {
	if typename == "" {
		typename = TypeUser
	}
	return schema.Ref(typename, id)
}

// Registry returns a frozen registry of the demo types
func Registry() *schema.Registry {
	reg := NewRegistry()
	if err := reg.Freeze(); err != nil {
		panic(fmt.Sprintf("blog: %v", err))
	}
	return reg
}

// NewRegistry returns an unfrozen registry of the demo types so callers
// can add their own.
func NewRegistry() *schema.Registry {
	reg := schema.NewRegistry()
	reg.MustRegister(
		UserType(),
		AdminType(),
		PostType(),
		CommentType(),
	)
	return reg
}

func userFields[T any](b *schema.Builder[T], user func(T) *User) *schema.Builder[T] {
	return b.
		ID(func(r T) string { return user(r).ID }, func(r T, id string) { user(r).ID = id }).
		ClientGeneratedIDs().
		Attribute("name",
			schema.Value(func(r T) string { return user(r).Name }),
			schema.Setter(func(r T, v string) { user(r).Name = v })).
		Attribute("email",
			schema.Value(func(r T) string { return user(r).Email }),
			schema.Setter(func(r T, v string) { user(r).Email = v })).
		Attribute("created_at",
			schema.Value(func(r T) time.Time { return user(r).CreatedAt }),
			nil).
		ToMany("posts", TypePost, schema.ToManyAccessors[T]{
			Get: func(r T) []any { return schema.Refs(TypePost, user(r).PostIDs) },
			Set: schema.SetMany(func(r T, posts []identified) { user(r).PostIDs = ids(posts) }),
			Add: schema.AddOne(func(r T, post identified) {
				user(r).PostIDs = append(user(r).PostIDs, post.ResourceID())
			}),
		})
}

// UserType declares the User resource
func UserType() *schema.ResourceType {
	b := schema.Define(TypeUser, func() *User { return &User{CreatedAt: Now()} })
	return userFields(b, func(u *User) *User { return u }).MustBuild()
}

// AdminType declares the Admin resource, a subtype of User
func AdminType() *schema.ResourceType {
	b := schema.Define(TypeAdmin, func() *Admin { return &Admin{User: User{CreatedAt: Now()}} }).
		Extends(TypeUser)
	return userFields(b, func(a *Admin) *User { return &a.User }).
		Attribute("level",
			schema.Value(func(a *Admin) int { return a.Level }),
			schema.Setter(func(a *Admin, v int) { a.Level = v })).
		MustBuild()
}

// PostType declares the Post resource. Its comments are read-only: they
// are attached through Comment.post.
func PostType() *schema.ResourceType {
	return schema.Define(TypePost, func() *Post { return &Post{} }).
		ID(func(p *Post) string { return p.ID }, func(p *Post, id string) { p.ID = id }).
		Attribute("title",
			schema.Value(func(p *Post) string { return p.Title }),
			schema.Setter(func(p *Post, v string) { p.Title = v })).
		Attribute("body",
			schema.Value(func(p *Post) string { return p.Body }),
			schema.Setter(func(p *Post, v string) { p.Body = v })).
		Attribute("tags",
			schema.Value(func(p *Post) []string { return p.Tags }),
			schema.Setter(func(p *Post, v []string) { p.Tags = v })).
		Attribute("published",
			schema.Value(func(p *Post) bool { return p.Published }),
			schema.Setter(func(p *Post, v bool) { p.Published = v })).
		Attribute("views",
			schema.Value(func(p *Post) int { return p.Views }),
			schema.Setter(func(p *Post, v int) { p.Views = v })).
		ToOne("author", TypeUser, schema.ToOneAccessors[*Post]{
			Get: func(p *Post) any { return authorRef(p.AuthorType, p.AuthorID) },
			Set: schema.SetOne(func(p *Post, u identified) { p.AuthorID, p.AuthorType = refOf(u) }),
		}).
		ToMany("comments", TypeComment, schema.ToManyAccessors[*Post]{
			Get: func(p *Post) []any { return schema.Refs(TypeComment, p.CommentIDs) },
		}).
		MustBuild()
}

// CommentType declares the Comment resource
func CommentType() *schema.ResourceType {
	return schema.Define(TypeComment, func() *Comment { return &Comment{} }).
		ID(func(c *Comment) string { return c.ID }, func(c *Comment, id string) { c.ID = id }).
		Attribute("text",
			schema.Value(func(c *Comment) string { return c.Text }),
			schema.Setter(func(c *Comment, v string) { c.Text = v })).
		ToOne("author", TypeUser, schema.ToOneAccessors[*Comment]{
			Get: func(c *Comment) any { return authorRef(c.AuthorType, c.AuthorID) },
			Set: schema.SetOne(func(c *Comment, u identified) { c.AuthorID, c.AuthorType = refOf(u) }),
		}).
		ToOne("post", TypePost, schema.ToOneAccessors[*Comment]{
			Get: func(c *Comment) any { return schema.Ref(TypePost, c.PostID) },
			Set: schema.SetOne(func(c *Comment, p identified) { c.PostID = idOf(p) }),
		}).
		MustBuild()
}
