package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Amount is a currency balance: either a non-negative finite value or Unlimited.
type Amount struct {
	value     int64
	unlimited bool
}

// Unlimited absorbs all arithmetic and is never decremented.
var Unlimited = Amount{unlimited: true}

// Finite returns a finite amount. Negative values are clamped to zero.
func Finite(n int64) Amount {
	if n < 0 {
		n = 0
	}
	return Amount{value: n}
}

func (a Amount) IsUnlimited() bool {
	return a.unlimited
}

// Value returns the finite value and false when the amount is Unlimited.
func (a Amount) Value() (int64, bool) {
	if a.unlimited {
		return 0, false
	}
	return a.value, true
}

// Add returns a+b; Unlimited on either side yields Unlimited.
func (a Amount) Add(b Amount) Amount {
	if a.unlimited || b.unlimited {
		return Unlimited
	}
	return Amount{value: a.value + b.value}
}

// Covers reports whether a balance can pay cost.
func (a Amount) Covers(cost int64) bool {
	return a.unlimited || a.value >= cost
}

// Sub deducts cost. Unlimited stays Unlimited; the caller checks Covers first.
func (a Amount) Sub(cost int64) Amount {
	if a.unlimited {
		return a
	}
	return Finite(a.value - cost)
}

func (a Amount) String() string {
	if a.unlimited {
		return "Unlimited"
	}
	return strconv.FormatInt(a.value, 10)
}

// MarshalJSON renders Unlimited as the string "Unlimited" and finite values as numbers.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.unlimited {
		return []byte(`"Unlimited"`), nil
	}
	return []byte(strconv.FormatInt(a.value, 10)), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "Unlimited" {
			return fmt.Errorf("invalid amount %q", s)
		}
		*a = Unlimited
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode amount: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("negative amount %d", n)
	}
	*a = Finite(n)
	return nil
}
