package storage

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Target names the physical table and columns an expiry sweep operates on.
type Target struct {
	Table  string
	Key    string
	Expiry string
}

// resolveTarget derives table and column names for model from the GORM
// schema, so the configured naming strategy (table prefix) applies.
func resolveTarget(db *gorm.DB, model any, expiryField string) (Target, error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(model); err != nil {
		return Target{}, fmt.Errorf("parse schema: %w", err)
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		return Target{}, fmt.Errorf("%s: no primary key", stmt.Schema.Name)
	}
	f := stmt.Schema.LookUpField(expiryField)
	if f == nil {
		return Target{}, fmt.Errorf("%s: unknown field %s", stmt.Schema.Name, expiryField)
	}
	return Target{Table: stmt.Schema.Table, Key: pk.DBName, Expiry: f.DBName}, nil
}

// Expiring runs bounded count and delete statements against one table whose
// expiry column holds Unix seconds. A row is expired when expiry <= cutoff.
type Expiring struct {
	db     *gorm.DB
	target Target
}

func (e *Expiring) Table() string { return e.target.Table }

func (e *Expiring) Target() Target { return e.target }

// CountExpired counts expired rows, capped at limit.
func (e *Expiring) CountExpired(ctx context.Context, cutoff int64, limit int) (int64, error) {
	t := e.target
	var n int64
	err := e.db.WithContext(ctx).Raw(
		"SELECT COUNT(*) FROM (SELECT 1 FROM ? WHERE ? <= ? LIMIT ?) AS eligible",
		clause.Table{Name: t.Table}, clause.Column{Name: t.Expiry}, cutoff, limit,
	).Scan(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteExpired removes at most limit expired rows, oldest expiry first, and
// returns the number of rows the driver reports as affected. The limit is
// applied through a primary-key subquery because neither SQLite builds nor
// PostgreSQL accept DELETE ... LIMIT.
func (e *Expiring) DeleteExpired(ctx context.Context, cutoff int64, limit int) (int64, error) {
	t := e.target
	res := e.db.WithContext(ctx).Exec(
		"DELETE FROM ? WHERE ? IN (SELECT ? FROM ? WHERE ? <= ? ORDER BY ? LIMIT ?)",
		clause.Table{Name: t.Table},
		clause.Column{Name: t.Key},
		clause.Column{Name: t.Key},
		clause.Table{Name: t.Table},
		clause.Column{Name: t.Expiry},
		cutoff,
		clause.Column{Name: t.Expiry},
		limit,
	)
	return res.RowsAffected, res.Error
}
