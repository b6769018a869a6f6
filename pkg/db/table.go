package db

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
)

var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Query selects, orders and pages records. Filters match JSON fields by
// equality. SortDirs may be shorter than SortKeys; missing directions repeat
// the first one.
type Query struct {
	Filters  map[string]any
	SortKeys []string
	SortDirs []string
	Limit    int
	Offset   int
}

// Table stores records of one entity type
type Table[T any] struct {
	db   *DB
	name string
}

// NewTable returns the table named name. The table must exist in the schema.
func NewTable[T any](db *DB, name string) *Table[T] {
	return &Table[T]{db: db, name: name}
}

// Name returns the table name
func (t *Table[T]) Name() string {
	return t.name
}

// Get returns the record with id
func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var data string
	err := t.db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = ?", t.name), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%s %s: %w", t.name, id, ErrNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get %s %s: %w", t.name, id, err)
	}
	return decode[T](data)
}

// GetAll returns the records matching q
func (t *Table[T]) GetAll(ctx context.Context, q Query) ([]T, error) {
	where, args, err := whereClause(q.Filters)
	if err != nil {
		return nil, err
	}
	order, err := orderClause(q.SortKeys, q.SortDirs)
	if err != nil {
		return nil, err
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidInput)
	}

	stmt := fmt.Sprintf("SELECT data FROM %s%s%s", t.name, where, order)
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit == 0 {
			limit = -1
		}
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.Offset)
	}

	rows, err := t.db.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	defer rows.Close()

	records := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Create inserts rec, assigning a new id when its id is empty, and returns
// the stored record
func (t *Table[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	fields, err := Fields(rec)
	if err != nil {
		return zero, err
	}
	id, _ := fields["id"].(string)
	if id == "" {
		id = uuid.NewString()
		fields["id"] = id
	}
	storageID, _ := fields["storage_id"].(string)

	data, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	_, err = t.db.conn.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, storage_id, data) VALUES (?, ?, ?)", t.name),
		id, storageID, string(data))
	if err != nil {
		return zero, fmt.Errorf("failed to create %s %s: %w", t.name, id, err)
	}
	return decode[T](string(data))
}

// Update merges values into the record with id and returns the result. The
// id itself cannot be changed.
func (t *Table[T]) Update(ctx context.Context, id string, values map[string]any) (T, error) {
	var zero T
	for key := range values {
		if !fieldPattern.MatchString(key) {
			return zero, fmt.Errorf("%w: field %q", ErrInvalidInput, key)
		}
	}

	tx, err := t.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", t.name), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, fmt.Errorf("%s %s: %w", t.name, id, ErrNotFound)
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get %s %s: %w", t.name, id, err)
	}

	fields, err := unmarshalFields([]byte(data))
	if err != nil {
		return zero, fmt.Errorf("corrupt %s %s: %w", t.name, id, err)
	}
	for key, value := range values {
		fields[key] = value
	}
	fields["id"] = id
	storageID, _ := fields["storage_id"].(string)

	updated, err := json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET storage_id = ?, data = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", t.name),
		storageID, string(updated), id)
	if err != nil {
		return zero, fmt.Errorf("failed to update %s %s: %w", t.name, id, err)
	}
	if err := tx.Commit(); err != nil {
		return zero, err
	}
	return decode[T](string(updated))
}

// Delete removes the record with id
func (t *Table[T]) Delete(ctx context.Context, id string) error {
	res, err := t.db.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.name), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t.name, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", t.name, id, ErrNotFound)
	}
	return nil
}

// DeleteWhere removes every record matching filters and returns how many
// were removed. Empty filters are rejected.
func (t *Table[T]) DeleteWhere(ctx context.Context, filters map[string]any) (int64, error) {
	if len(filters) == 0 {
		return 0, fmt.Errorf("%w: refusing to delete without filters", ErrInvalidInput)
	}
	where, args, err := whereClause(filters)
	if err != nil {
		return 0, err
	}
	res, err := t.db.conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", t.name, where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", t.name, err)
	}
	return res.RowsAffected()
}

// column maps a field name to the SQL expression holding it
func column(field string) string {
	switch field {
	case "id", "storage_id":
		return field
	default:
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	}
}

func whereClause(filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filters))
	for key := range filters {
		if !fieldPattern.MatchString(key) {
			return "", nil, fmt.Errorf("%w: filter %q", ErrInvalidInput, key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		value := filters[key]
		if value == nil {
			conds = append(conds, column(key)+" IS NULL")
			continue
		}
		conds = append(conds, column(key)+" = ?")
		args = append(args, sqlValue(value))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func orderClause(keys, dirs []string) (string, error) {
	if len(dirs) > len(keys) {
		return "", fmt.Errorf("%w: %d sort directions for %d sort keys", ErrInvalidInput, len(dirs), len(keys))
	}
	if len(keys) == 0 {
		return " ORDER BY rowid ASC", nil
	}

	parts := make([]string, 0, len(keys)+1)
	for i, key := range keys {
		if !fieldPattern.MatchString(key) {
			return "", fmt.Errorf("%w: sort key %q", ErrInvalidInput, key)
		}
		dir := "asc"
		switch {
		case i < len(dirs):
			dir = strings.ToLower(dirs[i])
		case len(dirs) > 0:
			dir = strings.ToLower(dirs[0])
		}
		if dir != "asc" && dir != "desc" {
			return "", fmt.Errorf("%w: sort direction %q", ErrInvalidInput, dir)
		}
		parts = append(parts, column(key)+" "+strings.ToUpper(dir))
	}
	parts = append(parts, "rowid ASC")
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// sqlValue converts filter values to what json_extract yields for them
func sqlValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return 1
		}
		return 0
	case reflect.String:
		return rv.String()
	}
	return v
}

// Fields converts rec to the field map it is stored as. Numbers stay
// json.Number so the map can be passed back to Update.
func Fields(rec any) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return unmarshalFields(data)
}

// unmarshalFields keeps numbers as json.Number so int64 capacities survive
func unmarshalFields(data []byte) (map[string]any, error) {
	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func decode[T any](data string) (T, error) {
	var rec T
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return rec, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}
