// internal/entity/repo.go
//
// Generic cache-aware CRUD repository.
//
// Context
// -------
// Repo[T] binds a Record type's Meta to the shared pool and the cache
// facade.  Reads honor the type's cache policy (region = type name or the
// declared override, key = decimal id); writes keep the cache consistent
// by evicting the keys the write invalidated.  Every operation goes
// through querier(), so calls inside WithTransaction automatically join
// the open transaction.
//
// SQL is the generic MySQL-flavored CRUD contract: `SELECT * FROM t WHERE
// id = ?`, backtick-quoted column lists on INSERT/UPDATE, and `LIMIT ?
// OFFSET ?` pagination.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/strandweb/strand/internal/cache"
)

// Repo provides CRUD over one Record type.  Construct with NewRepo at
// startup; safe for concurrent use.
type Repo[T Record] struct {
	meta    Meta
	db      *sqlx.DB
	cache   *cache.Cache
	factory func() T
}

// NewRepo registers a type: its Meta, a row factory, and the shared cache.
// The factory must return a fresh, scannable instance (a pointer type).
func NewRepo[T Record](db *sqlx.DB, c *cache.Cache, meta Meta, factory func() T) *Repo[T] {
	return &Repo[T]{meta: meta, db: db, cache: c, factory: factory}
}

// Meta exposes the registered descriptor, mainly for tests and tooling.
func (r *Repo[T]) Meta() Meta { return r.meta }

func (r *Repo[T]) cacheEnabled() bool { return r.meta.Cache != nil && r.cache != nil }

func (r *Repo[T]) region() string { return r.meta.Cache.Region }

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

/*────────────────────────────── reads ─────────────────────────────────────*/

// Get reads one row by id.  Non-positive ids short-circuit to "no row".
// Cache-enabled types consult the facade first and honor the type's
// cache-absent policy on miss.
func (r *Repo[T]) Get(ctx context.Context, id int64) (T, error) {
	var zero T
	if id <= 0 {
		return zero, nil
	}

	if !r.cacheEnabled() {
		return r.read(ctx, id)
	}

	v, err := r.cache.GetOrLoad(r.region(), idKey(id), func() (any, error) {
		rec, err := r.read(ctx, id)
		if err != nil {
			return nil, err
		}
		// Typed nil must become untyped nil or the facade would cache a
		// non-nil interface holding nothing.
		if isNil(rec) {
			return nil, nil
		}
		return rec, nil
	}, r.meta.Cache.CacheAbsent)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// read loads the row from storage, mapping "no row" to a nil result.
func (r *Repo[T]) read(ctx context.Context, id int64) (T, error) {
	var zero T
	dest := r.factory()
	q := "SELECT * FROM " + r.meta.Table + " WHERE id = ?"
	err := sqlx.GetContext(ctx, querier(ctx, r.db), dest, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return zero, storeErr("get", err)
	}
	return dest, nil
}

// GetMany batch-reads by id.  On success, cache-enabled types store every
// returned row under its id key.  Order follows the database, not ids.
func (r *Repo[T]) GetMany(ctx context.Context, ids []int64) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("SELECT * FROM " + r.meta.Table + " WHERE id IN (")
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('?')
		args[i] = id
	}
	sb.WriteByte(')')

	var out []T
	if err := sqlx.SelectContext(ctx, querier(ctx, r.db), &out, sb.String(), args...); err != nil {
		return nil, storeErr("getmany", err)
	}
	if r.cacheEnabled() {
		for _, rec := range out {
			r.cache.Set(r.region(), idKey(rec.ID()), rec)
		}
	}
	return out, nil
}

// List returns one page ordered by descending id.
func (r *Repo[T]) List(ctx context.Context, page, size int) ([]T, error) {
	q := "SELECT * FROM " + r.meta.Table + " ORDER BY id DESC"
	return r.querySlice(ctx, q, page, size)
}

// ListAll returns every row.  Cache-enabled types read through the fixed
// "all" key; the whole slice is one entry.
func (r *Repo[T]) ListAll(ctx context.Context) ([]T, error) {
	q := "SELECT * FROM " + r.meta.Table
	if !r.cacheEnabled() {
		var out []T
		if err := sqlx.SelectContext(ctx, querier(ctx, r.db), &out, q); err != nil {
			return nil, storeErr("list", err)
		}
		return out, nil
	}

	v, err := r.cache.GetOrLoad(r.region(), listCacheKey, func() (any, error) {
		var out []T
		if err := sqlx.SelectContext(ctx, querier(ctx, r.db), &out, q); err != nil {
			return nil, storeErr("list", err)
		}
		return out, nil
	}, r.meta.Cache.CacheAbsent)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]T), nil
}

// Filter pages over rows matching a caller-supplied fragment.  A fragment
// without a condition keyword gets WHERE synthesized; one without an
// ordering clause gets descending-id order appended.
func (r *Repo[T]) Filter(ctx context.Context, filter string, page, size int, args ...any) ([]T, error) {
	q := "SELECT * FROM " + r.meta.Table
	trimmed := strings.TrimSpace(filter)
	if trimmed != "" {
		q += withCondition(trimmed)
		if !strings.Contains(strings.ToLower(trimmed), "order by") {
			q += " ORDER BY id DESC"
		}
	} else {
		q += " ORDER BY id DESC"
	}
	return r.querySlice(ctx, q, page, size, args...)
}

// withCondition prefixes a fragment with WHERE unless it already carries
// a condition keyword, so the same fragment works for Filter and Count.
func withCondition(trimmed string) string {
	if strings.Contains(strings.ToLower(trimmed), "where") {
		return " " + trimmed
	}
	return " WHERE " + trimmed
}

// querySlice applies the pagination contract: positive page and size, an
// offset of (page-1)*size, and LIMIT/OFFSET parameters.
func (r *Repo[T]) querySlice(ctx context.Context, q string, page, size int, args ...any) ([]T, error) {
	if page < 1 || size < 1 {
		return nil, ErrInvalidPage
	}
	offset := (page - 1) * size
	args = append(args, size, offset)

	var out []T
	if err := sqlx.SelectContext(ctx, querier(ctx, r.db), &out, q+" LIMIT ? OFFSET ?", args...); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

// Count returns COUNT(*), optionally restricted by a fragment.  The
// unfiltered count of a cache-enabled type reads through the reserved "#"
// key, which is evicted by Save and Delete.
func (r *Repo[T]) Count(ctx context.Context, filter string, args ...any) (int, error) {
	q := "SELECT COUNT(*) FROM " + r.meta.Table
	if trimmed := strings.TrimSpace(filter); trimmed != "" {
		return r.stat(ctx, q+withCondition(trimmed), args...)
	}

	if !r.cacheEnabled() {
		return r.stat(ctx, q)
	}
	v, err := r.cache.GetOrLoad(r.region(), countCacheKey, func() (any, error) {
		return r.stat(ctx, q)
	}, false)
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (r *Repo[T]) stat(ctx context.Context, q string, args ...any) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &n, q, args...); err != nil {
		return 0, storeErr("count", err)
	}
	return n, nil
}

/*────────────────────────────── writes ────────────────────────────────────*/

// Save inserts rec.  When the id is unset the generated key is assigned
// back; a preset id is preserved (upsert-by-id semantics).  On success the
// count-cache key is evicted and, for cache-enabled types, so is the by-id
// entry: a concurrent first read may have cached an absent marker under
// the new id.
func (r *Repo[T]) Save(ctx context.Context, rec T) (int64, error) {
	cols, vals := r.writableFields(rec, rec.ID() > 0)

	var sb strings.Builder
	sb.WriteString("INSERT INTO " + r.meta.Table + " (`")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString("`,`")
		}
		sb.WriteString(c)
	}
	sb.WriteString("`) VALUES(")
	for i := range cols {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('?')
	}
	sb.WriteByte(')')

	res, err := querier(ctx, r.db).ExecContext(ctx, sb.String(), vals...)
	if err != nil {
		return 0, storeErr("save", err)
	}
	if rec.ID() == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, storeErr("save", err)
		}
		rec.SetID(id)
	}

	if r.cacheEnabled() {
		r.cache.Evict(r.region(), countCacheKey)
		r.cache.Evict(r.region(), idKey(rec.ID()))
	}
	return rec.ID(), nil
}

// Update rewrites every populated field except the identifier for the row
// matching rec's id.  Returns whether exactly one row changed; a missing
// id yields false, not an error.
func (r *Repo[T]) Update(ctx context.Context, rec T) (bool, error) {
	cols, vals := r.writableFields(rec, false)
	if len(cols) == 0 {
		return false, nil
	}

	var sb strings.Builder
	sb.WriteString("UPDATE " + r.meta.Table + " SET ")
	for i, c := range cols {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("`" + c + "`=?")
	}
	sb.WriteString(" WHERE id=?")
	vals = append(vals, rec.ID())

	res, err := querier(ctx, r.db).ExecContext(ctx, sb.String(), vals...)
	if err != nil {
		return false, storeErr("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("update", err)
	}

	ok := n == 1
	if ok && r.cacheEnabled() {
		r.cache.Evict(r.region(), idKey(rec.ID()))
	}
	return ok, nil
}

// Delete removes the row by id.  On success, cache-enabled types lose
// both the by-id entry and the count-cache key.
func (r *Repo[T]) Delete(ctx context.Context, rec T) (bool, error) {
	res, err := querier(ctx, r.db).ExecContext(ctx,
		"DELETE FROM "+r.meta.Table+" WHERE id=?", rec.ID())
	if err != nil {
		return false, storeErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("delete", err)
	}
	if n != 1 {
		return false, nil
	}
	if r.cacheEnabled() {
		r.cache.Evict(r.region(), idKey(rec.ID()))
		r.cache.Evict(r.region(), countCacheKey)
	}
	return true, nil
}

// BatchIncrement applies per-row additive updates to one integer column in
// a single transaction; any element failure rolls back the whole batch.
// With updateCache set, cached copies are patched in place so readers stay
// consistent without a reload.
func (r *Repo[T]) BatchIncrement(ctx context.Context, column string, deltas map[int64]int64, updateCache bool) error {
	if len(deltas) == 0 {
		return nil
	}
	f := r.meta.field(column)
	if updateCache && (f == nil || f.Set == nil) {
		return storeErr("batch", errors.New("column "+column+" has no settable descriptor"))
	}

	q := "UPDATE " + r.meta.Table + " SET `" + column + "`=`" + column + "`+? WHERE id=?"
	err := WithTransaction(ctx, r.db, func(ctx context.Context) error {
		ext := querier(ctx, r.db)
		for id, delta := range deltas {
			if _, err := ext.ExecContext(ctx, q, delta, id); err != nil {
				return storeErr("batch", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if updateCache && r.cacheEnabled() {
		for id, delta := range deltas {
			v, ok := r.cache.Get(r.region(), idKey(id))
			if !ok || v == nil {
				continue
			}
			rec := v.(T)
			f.Set(rec, toInt64(f.Get(rec))+delta)
			r.cache.Set(r.region(), idKey(id), rec)
		}
	}
	return nil
}

// WithTransaction runs fn inside a (possibly nested) transaction on this
// repo's pool.
func (r *Repo[T]) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTransaction(ctx, r.db, fn)
}

/*────────────────────────────── helpers ───────────────────────────────────*/

// writableFields enumerates (column, value) pairs for INSERT/UPDATE: the
// id only when includeID, and every field whose getter reports a value.
func (r *Repo[T]) writableFields(rec T, includeID bool) ([]string, []any) {
	cols := make([]string, 0, len(r.meta.Fields)+1)
	vals := make([]any, 0, len(r.meta.Fields)+1)
	if includeID {
		cols = append(cols, "id")
		vals = append(vals, rec.ID())
	}
	for _, f := range r.meta.Fields {
		v := f.Get(rec)
		if v == nil {
			continue
		}
		cols = append(cols, f.Name)
		vals = append(vals, v)
	}
	if len(cols) == 0 {
		zap.S().Warnw("record has no writable fields", "table", r.meta.Table)
	}
	return cols, vals
}

// isNil reports whether a generic record value is a nil pointer.  read()
// returns the zero value for "no row", which for pointer record types is
// a typed nil that must not leak into the cache as a present value.
func isNil[T Record](rec T) bool {
	v := reflect.ValueOf(rec)
	return !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil())
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return 0
	}
}
