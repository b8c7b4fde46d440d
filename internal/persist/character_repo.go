package persist

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// CharacterRow is the thin account -> entity pointer spec.md's character
// selection screen needs. Everything else about a character — stats,
// inventory, position — is opaque component data captured by
// internal/snapshot, not SQL columns here.
type CharacterRow struct {
	ID       int64
	Slot     int16
	Name     string
	EntityID uint64
}

type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

// ListForAccount returns every character slot owned by accountName, ordered
// by slot, for the character-selection screen.
func (r *CharacterRepo) ListForAccount(ctx context.Context, accountName string) ([]CharacterRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, slot, name, entity_id FROM characters WHERE account_name = $1 ORDER BY slot`,
		accountName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CharacterRow
	for rows.Next() {
		var c CharacterRow
		if err := rows.Scan(&c.ID, &c.Slot, &c.Name, &c.EntityID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Create reserves a new character slot, binding accountName's slot to the
// already-spawned entityID.
func (r *CharacterRepo) Create(ctx context.Context, accountName string, slot int16, name string, entityID uint64) (*CharacterRow, error) {
	row := &CharacterRow{Slot: slot, Name: name, EntityID: entityID}
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO characters (account_name, slot, name, entity_id)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		accountName, slot, name, entityID,
	).Scan(&row.ID)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Get looks up a single character by account and slot, for binding a
// session's entity on character selection.
func (r *CharacterRepo) Get(ctx context.Context, accountName string, slot int16) (*CharacterRow, error) {
	c := &CharacterRow{Slot: slot}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, name, entity_id FROM characters WHERE account_name = $1 AND slot = $2`,
		accountName, slot,
	).Scan(&c.ID, &c.Name, &c.EntityID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
