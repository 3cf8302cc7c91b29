package blog

import "github.com/conduit-lang/japi/internal/orm/storage/sqlstore"

func userColumns() []sqlstore.Column {
	return []sqlstore.Column{
		{Name: "name", Kind: sqlstore.KindText},
		{Name: "email", Kind: sqlstore.KindText},
		{Name: "created_at", Kind: sqlstore.KindTime},
		{Name: "post_ids", Kind: sqlstore.KindJSON},
	}
}

// Tables maps the demo types onto SQL tables
func Tables() []*sqlstore.Table {
	return []*sqlstore.Table{
		{Type: TypeUser, Name: "users", Columns: userColumns()},
		{
			Type:    TypeAdmin,
			Name:    "admins",
			Columns: append(userColumns(), sqlstore.Column{Name: "level", Kind: sqlstore.KindInteger}),
		},
		{
			Type: TypePost,
			Name: "posts",
			Columns: []sqlstore.Column{
				{Name: "title", Kind: sqlstore.KindText},
				{Name: "body", Kind: sqlstore.KindText},
				{Name: "tags", Kind: sqlstore.KindJSON},
				{Name: "published", Kind: sqlstore.KindBool},
				{Name: "views", Kind: sqlstore.KindInteger},
				{Name: "author_id", Kind: sqlstore.KindText},
				{Name: "author_type", Kind: sqlstore.KindText},
				{Name: "comment_ids", Kind: sqlstore.KindJSON},
			},
		},
		{
			Type: TypeComment,
			Name: "comments",
			Columns: []sqlstore.Column{
				{Name: "text", Kind: sqlstore.KindText},
				{Name: "author_id", Kind: sqlstore.KindText},
				{Name: "author_type", Kind: sqlstore.KindText},
				{Name: "post_id", Kind: sqlstore.KindText},
			},
		},
	}
}
