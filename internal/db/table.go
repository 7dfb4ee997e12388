package db

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// table maps a record type T onto a GORM row type R. Indexes name the
// secondary keys callers may query by, and the column backing each one.
type table[T any, R any] struct {
	name    string
	pk      string
	indexes map[string]string
	key     func(T) any
	encode  func(T) (R, error)
	decode  func(R) (T, error)
}

func (t *table[T, R]) exists(db *gorm.DB, key any) (bool, error) {
	var n int64
	if err := db.Model(new(R)).Where(t.pk+" = ?", key).Count(&n).Error; err != nil {
		return false, ioError(t.name+" lookup", err)
	}
	return n > 0, nil
}

func (t *table[T, R]) add(ctx context.Context, db *gorm.DB, rec T) error {
	db = db.WithContext(ctx)
	found, err := t.exists(db, t.key(rec))
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%s %v: %w", t.name, t.key(rec), ErrDuplicateKey)
	}
	row, err := t.encode(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.name, err)
	}
	if err := db.Create(&row).Error; err != nil {
		return ioError(t.name+" add", err)
	}
	return nil
}

func (t *table[T, R]) update(ctx context.Context, db *gorm.DB, rec T) error {
	db = db.WithContext(ctx)
	found, err := t.exists(db, t.key(rec))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %v: %w", t.name, t.key(rec), ErrNotFound)
	}
	row, err := t.encode(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.name, err)
	}
	if err := db.Save(&row).Error; err != nil {
		return ioError(t.name+" update", err)
	}
	return nil
}

func (t *table[T, R]) remove(ctx context.Context, db *gorm.DB, key any) error {
	res := db.WithContext(ctx).Where(t.pk+" = ?", key).Delete(new(R))
	if res.Error != nil {
		return ioError(t.name+" delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %v: %w", t.name, key, ErrNotFound)
	}
	return nil
}

func (t *table[T, R]) get(ctx context.Context, db *gorm.DB, key any) (T, bool, error) {
	var zero T
	var rows []R
	if err := db.WithContext(ctx).Where(t.pk+" = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return zero, false, ioError(t.name+" get", err)
	}
	if len(rows) == 0 {
		return zero, false, nil
	}
	rec, err := t.decode(rows[0])
	if err != nil {
		return zero, false, ioError(t.name+" decode", err)
	}
	return rec, true, nil
}

func (t *table[T, R]) all(ctx context.Context, db *gorm.DB) ([]T, error) {
	var rows []R
	if err := db.WithContext(ctx).Order(t.pk).Find(&rows).Error; err != nil {
		return nil, ioError(t.name+" list", err)
	}
	return t.decodeAll(rows)
}

func (t *table[T, R]) column(index string) (string, error) {
	col, ok := t.indexes[index]
	if !ok {
		return "", fmt.Errorf("%s index %q: %w", t.name, index, ErrUnknownIndex)
	}
	return col, nil
}

func (t *table[T, R]) byIndex(ctx context.Context, db *gorm.DB, index string, value any) ([]T, error) {
	col, err := t.column(index)
	if err != nil {
		return nil, err
	}
	var rows []R
	if err := db.WithContext(ctx).Where(col+" = ?", value).Order(t.pk).Find(&rows).Error; err != nil {
		return nil, ioError(t.name+" query "+index, err)
	}
	return t.decodeAll(rows)
}

func (t *table[T, R]) deleteByIndex(ctx context.Context, db *gorm.DB, index string, value any) (int, error) {
	col, err := t.column(index)
	if err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).Where(col+" = ?", value).Delete(new(R))
	if res.Error != nil {
		return 0, ioError(t.name+" delete by "+index, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (t *table[T, R]) clear(ctx context.Context, db *gorm.DB) error {
	err := db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(new(R)).Error
	if err != nil {
		return ioError(t.name+" clear", err)
	}
	return nil
}

func (t *table[T, R]) count(ctx context.Context, db *gorm.DB, where ...any) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(new(R))
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, ioError(t.name+" count", err)
	}
	return n, nil
}

func (t *table[T, R]) decodeAll(rows []R) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		rec, err := t.decode(r)
		if err != nil {
			return nil, ioError(t.name+" decode", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
