package models

import (
	"fmt"

	"github.com/dmitrijs2005/telehealth/internal/common"
	"github.com/hengadev/errsx"
)

type Pagination struct {
	Page  int
	Limit int
}

// DefaultPagination is page 1 with the default limit.
func DefaultPagination() Pagination {
	return Pagination{Page: 1, Limit: common.DefaultPageLimit}
}

// Validate requires page >= 1 and 1 <= limit <= common.MaxPageLimit.
func (p Pagination) Validate() error {
	var errs errsx.Map
	if p.Page < 1 {
		errs.Set("page", "must be at least 1")
	}
	if p.Limit < 1 || p.Limit > common.MaxPageLimit {
		errs.Set("limit", fmt.Sprintf("must be between 1 and %d", common.MaxPageLimit))
	}
	if errs.IsEmpty() {
		return nil
	}
	return fmt.Errorf("%w: %v", common.ErrorValidation, errs.AsError())
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

type PageMeta struct {
	TotalItems   int `json:"totalItems"`
	ItemsPerPage int `json:"itemsPerPage"`
	TotalPages   int `json:"totalPages"`
	CurrentPage  int `json:"currentPage"`
}

// Page is one slice of a listing plus the counters needed to page through it.
type Page[T any] struct {
	Items []T      `json:"items"`
	Meta  PageMeta `json:"meta"`
}

func NewPage[T any](items []T, total int, p Pagination) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items: items,
		Meta: PageMeta{
			TotalItems:   total,
			ItemsPerPage: p.Limit,
			TotalPages:   (total + p.Limit - 1) / p.Limit,
			CurrentPage:  p.Page,
		},
	}
}
