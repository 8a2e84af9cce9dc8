package domain

import (
	"math"

	"github.com/google/uuid"
)

// 分頁預設值
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ListFilter 查詢交易列表的條件，Page/Limit 由 usecase 正規化後才會交給 Store
type ListFilter struct {
	UserID uuid.UUID
	// Type 為空字串時不過濾
	Type  TransactionType
	Page  int
	Limit int
}

// Offset (page-1)*limit，溢位時回傳 math.MaxInt，必定超出資料範圍而得到空頁
func (f ListFilter) Offset() int {
	if f.Page < 1 || f.Limit < 1 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.Limit {
		return math.MaxInt
	}
	return (f.Page - 1) * f.Limit
}

// PageMeta 分頁資訊
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// NewPageMeta totalPages = ceil(total/limit)，total 為 0 時 totalPages 為 0
func NewPageMeta(total int64, page, limit int) PageMeta {
	meta := PageMeta{
		Total: total,
		Page:  page,
		Limit: limit,
	}
	if limit > 0 && total > 0 {
		meta.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return meta
}

// TransactionPage 交易分頁結果
type TransactionPage struct {
	Data []*Transaction `json:"data"`
	Meta PageMeta       `json:"meta"`
}
