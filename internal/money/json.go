package money

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON implements json.Marshaler for Amount.
// Amounts travel as yuan decimal strings with exactly two fraction digits:
//
//	"10.50"
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements json.Unmarshaler for Amount.
// Accepts the string form only ("10.50"); numeric JSON is rejected so
// float rounding can never reach the ledger.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("money: amount must be a decimal string: %w", err)
	}

	parsed, err := Parse(s)
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}
