package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"pat-backend/internal/storage"

	"github.com/georgysavva/scany/pgxscan"
)

const defaultPageSize = 500

var (
	ErrInsertFailed           = errors.New("insert operation failed")
	ErrDeleteFailed           = errors.New("delete operation failed")
	ErrTransactionStartFailed = errors.New("transaction start failed")
	ErrSelectFailed           = errors.New("select operation failed")
	ErrDecodeFailed           = errors.New("item decode failed")
)

type Table struct {
	db     *DB
	name   string
	schema storage.Schema
}

func (t *Table) Name() string           { return t.name }
func (t *Table) Schema() storage.Schema { return t.schema }

func (t *Table) Get(ctx context.Context, key storage.Key) (storage.Item, error) {
	const fn = "DB:Get"
	var r row
	err := pgxscan.Get(ctx, t.db.pool, &r, `
		SELECT pk, sk, item
		FROM kv_items
		WHERE table_name = $1 AND pk = $2 AND sk = $3
	`, t.name, key.PK, key.SK)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, t.wrap(fn, ErrSelectFailed, key, err)
	}
	return decode(r)
}

func (t *Table) Put(ctx context.Context, item storage.Item) error {
	const fn = "DB:Put"
	key, err := t.schema.KeyOf(item)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%s:%w", fn, err)
	}
	_, err = t.db.pool.Exec(ctx, `
		INSERT INTO kv_items (table_name, pk, sk, item)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (table_name, pk, sk) DO UPDATE SET item = EXCLUDED.item
	`, t.name, key.PK, key.SK, raw)
	if err != nil {
		return t.wrap(fn, ErrInsertFailed, key, err)
	}
	return nil
}

func (t *Table) Delete(ctx context.Context, key storage.Key) (bool, error) {
	const fn = "DB:Delete"
	tag, err := t.db.pool.Exec(ctx, `
		DELETE FROM kv_items
		WHERE table_name = $1 AND pk = $2 AND sk = $3
	`, t.name, key.PK, key.SK)
	if err != nil {
		return false, t.wrap(fn, ErrDeleteFailed, key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Table) Query(ctx context.Context, in storage.QueryInput) (storage.Page, error) {
	const fn = "DB:Query"
	args := []any{t.name, in.PK}
	where := []string{"table_name = $1", "pk = $2"}
	if in.StartToken != "" {
		start, err := storage.DecodeToken(in.StartToken)
		if err != nil {
			return storage.Page{}, fmt.Errorf("%s:%w", fn, err)
		}
		args = append(args, start.SK)
		if in.Descending {
			where = append(where, fmt.Sprintf("sk < $%d", len(args)))
		} else {
			where = append(where, fmt.Sprintf("sk > $%d", len(args)))
		}
	}
	order := "ASC"
	if in.Descending {
		order = "DESC"
	}
	limit := pageLimit(in.Limit)
	args = append(args, limit+1)

	var rows []row
	err := pgxscan.Select(ctx, t.db.pool, &rows, fmt.Sprintf(`
		SELECT pk, sk, item
		FROM kv_items
		WHERE %s
		ORDER BY sk %s
		LIMIT $%d
	`, strings.Join(where, " AND "), order, len(args)), args...)
	if err != nil {
		return storage.Page{}, t.wrap(fn, ErrSelectFailed, storage.Key{PK: in.PK}, err)
	}
	return page(rows, limit)
}

func (t *Table) Scan(ctx context.Context, in storage.ScanInput) (storage.Page, error) {
	const fn = "DB:Scan"
	args := []any{t.name}
	where := []string{"table_name = $1"}
	if in.StartToken != "" {
		start, err := storage.DecodeToken(in.StartToken)
		if err != nil {
			return storage.Page{}, fmt.Errorf("%s:%w", fn, err)
		}
		args = append(args, start.PK, start.SK)
		where = append(where, fmt.Sprintf("(pk, sk) > ($%d, $%d)", len(args)-1, len(args)))
	}
	attrs := make([]string, 0, len(in.Filter))
	for attr := range in.Filter {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)
	for _, attr := range attrs {
		args = append(args, attr, in.Filter[attr])
		where = append(where, fmt.Sprintf("item->>$%d = $%d", len(args)-1, len(args)))
	}
	limit := pageLimit(in.Limit)
	args = append(args, limit+1)

	var rows []row
	err := pgxscan.Select(ctx, t.db.pool, &rows, fmt.Sprintf(`
		SELECT pk, sk, item
		FROM kv_items
		WHERE %s
		ORDER BY pk ASC, sk ASC
		LIMIT $%d
	`, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return storage.Page{}, t.wrap(fn, ErrSelectFailed, storage.Key{}, err)
	}
	return page(rows, limit)
}

func (t *Table) BatchDelete(ctx context.Context, keys []storage.Key) (err error) {
	const fn = "DB:BatchDelete"
	tx, err := t.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s:%w:%w:%w", fn, storage.ErrUnavailable, ErrTransactionStartFailed, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	for _, key := range keys {
		_, err = tx.Exec(ctx, `
			DELETE FROM kv_items
			WHERE table_name = $1 AND pk = $2 AND sk = $3
		`, t.name, key.PK, key.SK)
		if err != nil {
			return t.wrap(fn, ErrDeleteFailed, key, err)
		}
	}
	return nil
}

func (t *Table) wrap(fn string, kind error, key storage.Key, err error) error {
	return fmt.Errorf("%s:%w:%w:%s[%s/%s]:%w", fn, storage.ErrUnavailable, kind, t.name, key.PK, key.SK, err)
}

// page trims the look-ahead row and emits a token only when more rows exist.
func page(rows []row, limit int) (storage.Page, error) {
	var p storage.Page
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		p.Next = storage.EncodeToken(storage.Key{PK: last.PK, SK: last.SK})
	}
	p.Items = make([]storage.Item, 0, len(rows))
	for _, r := range rows {
		item, err := decode(r)
		if err != nil {
			return storage.Page{}, err
		}
		p.Items = append(p.Items, item)
	}
	return p, nil
}

func decode(r row) (storage.Item, error) {
	item := storage.Item{}
	if err := json.Unmarshal(r.Item, &item); err != nil {
		return nil, fmt.Errorf("DB:decode:%w:%w", ErrDecodeFailed, err)
	}
	return item, nil
}

func pageLimit(requested int) int {
	if requested > 0 {
		return requested
	}
	return defaultPageSize
}
