// internal/user/user.go
//
// Registered user record.
//
// Context
// -------
// User is the canonical identity record and the reference registration of
// the entity layer: cache-enabled under the "User" region, with absent
// caching so probes for deleted accounts do not hammer storage.  The
// password column holds a hash, never a plaintext value; token validation
// compares hashes case-insensitively because legacy rows stored them in
// mixed case.
package user

import (
	"strings"
	"time"

	"github.com/strandweb/strand/internal/entity"
)

// Account status values for the status column.
const (
	StatusNormal   = 0
	StatusPending  = 1
	StatusDisabled = 4
)

// Role values for the role column.
const (
	RoleGeneral       = 1
	RoleSystemManager = 0x200
)

type User struct {
	Id        int64      `db:"id"`
	Email     string     `db:"email"`
	Name      string     `db:"name"`
	Pwd       string     `db:"pwd"`
	Ident     string     `db:"ident"`
	Role      int        `db:"role"`
	Score     int64      `db:"score"`
	Status    int        `db:"status"`
	RegTime   *time.Time `db:"reg_time"`
	LoginTime *time.Time `db:"last_login_time"`
	LoginIP   string     `db:"last_login_ip"`
}

func (u *User) ID() int64      { return u.Id }
func (u *User) SetID(id int64) { u.Id = id }

// IsBlocked reports whether the account is administratively disabled.
func (u *User) IsBlocked() bool { return u.Status == StatusDisabled }

// PasswordMatches compares a stored hash against the one carried in a
// session token.
func (u *User) PasswordMatches(hash string) bool {
	return hash != "" && strings.EqualFold(u.Pwd, hash)
}

func strField(name string, get func(*User) string, set func(*User, string)) entity.Field {
	return entity.Field{
		Name: name,
		Get: func(r entity.Record) any {
			if v := get(r.(*User)); v != "" {
				return v
			}
			return nil
		},
		Set: func(r entity.Record, v any) { set(r.(*User), v.(string)) },
	}
}

// Meta is the registration descriptor for the user table.  Field getters
// report nil for empty values, so partial records write only the columns
// they carry.
var Meta = entity.Meta{
	Table: "user",
	Fields: []entity.Field{
		strField("email", func(u *User) string { return u.Email }, func(u *User, v string) { u.Email = v }),
		strField("name", func(u *User) string { return u.Name }, func(u *User, v string) { u.Name = v }),
		strField("pwd", func(u *User) string { return u.Pwd }, func(u *User, v string) { u.Pwd = v }),
		strField("ident", func(u *User) string { return u.Ident }, func(u *User, v string) { u.Ident = v }),
		{
			Name: "role",
			Get: func(r entity.Record) any {
				if v := r.(*User).Role; v != 0 {
					return v
				}
				return nil
			},
			Set: func(r entity.Record, v any) { r.(*User).Role = int(toInt64(v)) },
		},
		{
			Name: "score",
			Get:  func(r entity.Record) any { return r.(*User).Score },
			Set:  func(r entity.Record, v any) { r.(*User).Score = toInt64(v) },
		},
		{
			Name: "status",
			Get:  func(r entity.Record) any { return r.(*User).Status },
			Set:  func(r entity.Record, v any) { r.(*User).Status = int(toInt64(v)) },
		},
		strField("last_login_ip", func(u *User) string { return u.LoginIP }, func(u *User, v string) { u.LoginIP = v }),
	},
	Cache: &entity.CacheConfig{Region: "User", CacheAbsent: true},
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
