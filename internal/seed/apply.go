package seed

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shelfshare/internal/service"
)

// Services are the engine entry points a fixture is applied through.
type Services struct {
	Auth    service.AuthService
	Catalog service.CatalogService
	Forums  service.ForumService
}

// Result counts what Apply created.
type Result struct {
	Users  int
	Books  int
	Forums int
}

// Apply creates every user, shelf and forum in the fixture. It stops at the
// first failure; rows created before it stay.
func Apply(ctx context.Context, svc Services, f *Fixture, logger zerolog.Logger) (*Result, error) {
	res := &Result{}
	userIDs := make(map[string]uuid.UUID, len(f.Users))
	bookIDs := make(map[string]uuid.UUID)

	for _, u := range f.Users {
		user, err := svc.Auth.Register(ctx, u.Name, u.Email, u.Password)
		if err != nil {
			return res, fmt.Errorf("register %s: %w", u.Email, err)
		}
		userIDs[emailKey(u.Email)] = user.ID
		res.Users++

		for _, b := range u.Books {
			book, err := svc.Catalog.AddOwnedBook(ctx, user.ID, service.BookInput{
				Title:  b.Title,
				Author: b.Author,
				Genre:  b.Genre,
			})
			if err != nil {
				return res, fmt.Errorf("add %q for %s: %w", b.Title, u.Email, err)
			}
			key := service.IdentityKey(b.Title, b.Author)
			if _, seen := bookIDs[key]; !seen {
				res.Books++
			}
			bookIDs[key] = book.ID
		}
	}

	for _, fs := range f.Forums {
		creator := userIDs[emailKey(fs.Creator)]
		forum, err := svc.Forums.CreateForum(ctx, creator, service.CreateForumInput{
			Name:        fs.Name,
			Location:    fs.Location,
			Description: fs.Description,
		})
		if err != nil {
			return res, fmt.Errorf("create forum %q: %w", fs.Name, err)
		}

		for _, m := range fs.Members {
			if emailKey(m) == emailKey(fs.Creator) {
				continue
			}
			if _, err := svc.Forums.JoinForum(ctx, userIDs[emailKey(m)], forum.InviteCode); err != nil {
				return res, fmt.Errorf("join %q as %s: %w", fs.Name, m, err)
			}
		}
		for _, a := range fs.Admins {
			if err := svc.Forums.MakeAdmin(ctx, creator, forum.ID, userIDs[emailKey(a)]); err != nil {
				return res, fmt.Errorf("promote %s in %q: %w", a, fs.Name, err)
			}
		}
		for _, h := range fs.Hidden {
			bookID := bookIDs[service.IdentityKey(h.Title, h.Author)]
			if err := svc.Forums.HideBook(ctx, creator, forum.ID, bookID); err != nil {
				return res, fmt.Errorf("hide %q in %q: %w", h.Title, fs.Name, err)
			}
		}

		logger.Info().
			Str("forum", forum.Name).
			Str("invite_code", forum.InviteCode).
			Int("members", len(fs.Members)+1).
			Msg("seeded forum")
		res.Forums++
	}
	return res, nil
}
