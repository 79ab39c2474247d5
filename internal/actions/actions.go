// internal/actions/actions.go
//
// Built-in action sets.
//
// Context
// -------
// Registers the site's default handlers: the index set for page routes
// and the user set for login, logout, and profile APIs.  These double as
// the reference wiring for the dispatcher contract — verb-restricted
// methods, API outcomes, and continue-to-view routes all appear here.
package actions

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/strandweb/strand/internal/api"
	"github.com/strandweb/strand/internal/dispatch"
	"github.com/strandweb/strand/internal/entity"
	"github.com/strandweb/strand/internal/throttle"
	"github.com/strandweb/strand/internal/user"
	"github.com/strandweb/strand/internal/web"
)

// Deps carries the collaborators the built-in sets need.
type Deps struct {
	Users   *entity.Repo[*user.User]
	Limiter *throttle.Limiter
}

// Register installs the built-in sets on d.
func Register(d *dispatch.Dispatcher, deps Deps) {
	d.Register(indexSet())
	d.Register(userSet(deps))
}

// HashPassword reduces a submitted password to the stored hash form.
func HashPassword(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func indexSet() *dispatch.Set {
	return &dispatch.Set{
		Name: "index",
		Methods: []dispatch.Method{
			// The root and any page-only route continue to the view
			// search untouched.
			{Name: "index", Fn: func(ctx *web.Context) bool {
				ctx.SetPublicCache(5)
				return true
			}},
			{Name: "ping", Fn: func() dispatch.Outcome {
				return dispatch.Output("pong")
			}},
		},
	}
}

// profile is the client-visible shape of a user record.  The password
// hash never leaves the server.
type profile struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Ident string `json:"ident"`
	Email string `json:"email"`
	Score int64  `json:"score"`
}

func toProfile(u *user.User) profile {
	return profile{ID: u.Id, Name: u.Name, Ident: u.Ident, Email: u.Email, Score: u.Score}
}

func userSet(deps Deps) *dispatch.Set {
	return &dispatch.Set{
		Name: "user",
		Methods: []dispatch.Method{
			{Name: "info", Fn: func(ctx *web.Context) (dispatch.Outcome, error) {
				u, err := deps.Users.Get(ctx.Request().Context(), ctx.ID())
				if err != nil {
					return dispatch.Stop(), err
				}
				if u == nil {
					return dispatch.Output(api.Fail("no such user")), nil
				}
				return dispatch.Output(api.SuccessWith(toProfile(u))), nil
			}},

			{Name: "me", Fn: func(ctx *web.Context) dispatch.Outcome {
				u := ctx.ValidUser()
				if u == nil {
					return dispatch.Output(api.Fail("not logged in"))
				}
				return dispatch.Output(api.SuccessWith(toProfile(u)))
			}},

			{Name: "login", Verb: dispatch.POST, Fn: func(ctx *web.Context) (dispatch.Outcome, error) {
				name := strings.TrimSpace(ctx.Param("name", ""))
				pwd := ctx.Param("pwd", "")
				if name == "" || pwd == "" {
					return dispatch.Output(api.FailWith("name and password required", "name")), nil
				}

				found, err := deps.Users.Filter(ctx.Request().Context(), "name = ?", 1, 1, name)
				if err != nil {
					return dispatch.Stop(), err
				}
				if len(found) == 0 || !found[0].PasswordMatches(HashPassword(pwd)) {
					if deps.Limiter != nil {
						deps.Limiter.Fail(ctx.IP())
					}
					return dispatch.Output(api.Fail("bad credentials")), nil
				}
				u := found[0]
				if u.IsBlocked() {
					return dispatch.Output(api.Fail("account disabled")), nil
				}

				if err := ctx.SaveUserCookie(u); err != nil {
					return dispatch.Stop(), err
				}
				if deps.Limiter != nil {
					deps.Limiter.Reset(ctx.IP())
				}
				return dispatch.Output(api.SuccessWith(toProfile(u))), nil
			}},

			{Name: "logout", Fn: func(ctx *web.Context) dispatch.Outcome {
				ctx.DeleteUserCookie()
				return dispatch.Output(api.Success())
			}},
		},
	}
}
