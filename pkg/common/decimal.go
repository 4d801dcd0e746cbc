package common

import (
	decimal2 "github.com/govalues/decimal"
)

type Decimal struct {
	decimal2.Decimal
}

func (dec *Decimal) Equal(o *Decimal) bool {
	return dec.Decimal.Cmp(o.Decimal) == 0
}

func (dec *Decimal) String() string {
	return dec.Decimal.String()
}

// NewDecimal interprets val as an integer scaled by 10^scale.
func NewDecimal(val int64, scale int) (Decimal, error) {
	d, err := decimal2.New(val, scale)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Decimal: d}, nil
}

// RenderScaled formats a raw decimal-typed aggregate for output.
func RenderScaled(val int64, scale int) string {
	d, err := NewDecimal(val, scale)
	if err != nil {
		panic(err)
	}
	return d.String()
}
