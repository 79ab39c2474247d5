// internal/actions/actions_test.go
//
// End-to-end exercise of the login flow: a real dispatcher, a real
// session codec, and a sqlmock-backed user repository.
package actions

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/strandweb/strand/internal/cache"
	"github.com/strandweb/strand/internal/dispatch"
	"github.com/strandweb/strand/internal/entity"
	"github.com/strandweb/strand/internal/token"
	"github.com/strandweb/strand/internal/user"
	"github.com/strandweb/strand/internal/web"
)

func newHarness(t *testing.T) (*dispatch.Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := entity.NewRepo(sqlx.NewDb(db, "sqlmock"), cache.New(), user.Meta,
		func() *user.User { return &user.User{} })

	codec, err := token.NewCodec("actions-test")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	d := dispatch.New(dispatch.Options{
		Session: web.SessionConfig{CookieName: "sid", MaxAge: 3600, Codec: codec, Users: users},
	})
	Register(d, Deps{Users: users})
	return d, mock
}

func postForm(d *dispatch.Dispatcher, target, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	d.ServeHTTP(w, r)
	return w
}

func decodeEnvelope(t *testing.T, body string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		t.Fatalf("bad envelope %q: %v", body, err)
	}
	return m
}

func userRows(u *user.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "name", "pwd", "ident", "score", "status"}).
		AddRow(u.Id, u.Email, u.Name, u.Pwd, u.Ident, u.Score, u.Status)
}

const filterByName = "SELECT * FROM user WHERE name = ? ORDER BY id DESC LIMIT ? OFFSET ?"

func TestLogin_GoodCredentialsSetSessionCookie(t *testing.T) {
	d, mock := newHarness(t)
	stored := &user.User{Id: 7, Name: "dev", Pwd: HashPassword("secret"), Ident: "dev", Email: "dev@example.com"}
	mock.ExpectQuery(filterByName).WithArgs("dev", 1, 0).WillReturnRows(userRows(stored))

	w := postForm(d, "/user/login", "name=dev&pwd=secret")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	env := decodeEnvelope(t, w.Body.String())
	if env["code"] != float64(1) {
		t.Fatalf("envelope = %v", env)
	}

	var session *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == "sid" {
			session = ck
		}
	}
	if session == nil || session.Value == "" {
		t.Fatal("no session cookie issued")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLogin_BadPasswordFailsWithoutCookie(t *testing.T) {
	d, mock := newHarness(t)
	stored := &user.User{Id: 7, Name: "dev", Pwd: HashPassword("secret")}
	mock.ExpectQuery(filterByName).WithArgs("dev", 1, 0).WillReturnRows(userRows(stored))

	w := postForm(d, "/user/login", "name=dev&pwd=wrong")
	env := decodeEnvelope(t, w.Body.String())
	if env["code"] != float64(0) {
		t.Fatalf("envelope = %v", env)
	}
	for _, ck := range w.Result().Cookies() {
		if ck.Name == "sid" && ck.Value != "" {
			t.Fatal("session cookie issued for bad credentials")
		}
	}
}

func TestLogin_RequiresPOST(t *testing.T) {
	d, _ := newHarness(t)
	// GET must not reach the login handler; no query expectations exist,
	// so any storage touch would fail the test.
	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest("GET", "/user/login", nil))
	if w.Code == http.StatusMethodNotAllowed {
		t.Fatal("verb mismatch answered 405 instead of falling through")
	}
}

func TestUserInfo(t *testing.T) {
	d, mock := newHarness(t)
	stored := &user.User{Id: 9, Name: "ada", Ident: "ada", Email: "ada@example.com", Score: 12}
	mock.ExpectQuery("SELECT * FROM user WHERE id = ?").
		WithArgs(int64(9)).
		WillReturnRows(userRows(stored))

	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest("GET", "/user/info?id=9", nil))

	env := decodeEnvelope(t, w.Body.String())
	if env["code"] != float64(1) {
		t.Fatalf("envelope = %v", env)
	}
	result := env["result"].(map[string]any)
	if result["name"] != "ada" {
		t.Fatalf("result = %v", result)
	}
	if _, leaked := result["pwd"]; leaked {
		t.Fatal("password hash leaked in profile")
	}
}

func TestUserInfo_MissingID(t *testing.T) {
	d, _ := newHarness(t)
	// id=0 short-circuits in the repository; storage is never touched.
	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest("GET", "/user/info", nil))
	env := decodeEnvelope(t, w.Body.String())
	if env["code"] != float64(0) {
		t.Fatalf("envelope = %v", env)
	}
}

func TestPing(t *testing.T) {
	d, _ := newHarness(t)
	w := httptest.NewRecorder()
	d.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
	if w.Body.String() != "pong" {
		t.Fatalf("body = %q", w.Body.String())
	}
}
