package domain

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// amount 使用int64 儲存最小單位，並定義精度：小數點後 2 位
const (
	CurrencyScale       = 100
	AmountDecimalPlaces = 2
)

// MaxAmount 單筆交易金額上限 999,999,999.99
const MaxAmount Amount = 99_999_999_999

var (
	maxInt64Decimal = decimal.NewFromInt(math.MaxInt64)
	minInt64Decimal = decimal.NewFromInt(math.MinInt64)
)

// Amount 金額 (最小單位)，避免浮點數誤差
type Amount int64

// ParseAmount 將十進位字串 (e.g. "1000.50") 轉為 Amount
//
// 參數:
//
//	s: 十進位字串
//
// 回傳:
//
//	Amount: 金額
//	error: 格式錯誤或小數位數超過 2 位
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, NewValidationError("amount", "must be a decimal number")
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal 將 decimal 轉為 Amount，只接受最多 2 位小數
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Truncate(AmountDecimalPlaces)) {
		return 0, NewValidationError("amount", "must have at most 2 decimal places")
	}
	minor := d.Shift(AmountDecimalPlaces)
	if minor.GreaterThan(maxInt64Decimal) || minor.LessThan(minInt64Decimal) {
		return 0, NewValidationError("amount", "out of range")
	}
	return Amount(minor.IntPart()), nil
}

// Validate 檢查交易金額: 必須為正數且不超過 MaxAmount
func (a Amount) Validate() error {
	if a <= 0 {
		return NewValidationError("amount", "must be positive")
	}
	if a > MaxAmount {
		return NewValidationError("amount", "must not exceed "+MaxAmount.String())
	}
	return nil
}

// Decimal 轉回 decimal 表示
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -AmountDecimalPlaces)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(AmountDecimalPlaces)
}

// MarshalJSON 輸出為 JSON number，固定 2 位小數 (e.g. 1000.00)
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON 同時接受 JSON number 與字串
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
