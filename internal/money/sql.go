package money

import (
	"database/sql/driver"
	"fmt"
)

// Value stores the amount as its fen count, matching the BIGINT ledger columns.
func (a Amount) Value() (driver.Value, error) {
	return a.Fen, nil
}

// Scan reads a fen count from a BIGINT column.
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		a.Fen = v
		return nil
	case nil:
		a.Fen = 0
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T into Amount", src)
	}
}
