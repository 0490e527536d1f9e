package audit

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LogRepository is the storage port of Service.
type LogRepository interface {
	List(ctx context.Context, f Filters, limit, offset int) ([]Row, error)
	ListAll(ctx context.Context, f Filters, limit int) ([]Row, error)
	Delete(ctx context.Context, id int64) error
}

// Authorizer is satisfied by *rbac.Guard.
type Authorizer interface {
	Authorize(ctx context.Context, id rbac.Identity, req rbac.Requirement) error
}

// Service mengoordinasikan administrasi tabel audit log.
type Service struct {
	repo        LogRepository
	guard       Authorizer
	exportLimit int
}

// NewService membuat service audit baru.
func NewService(repo LogRepository, guard Authorizer) *Service {
	return &Service{repo: repo, guard: guard, exportLimit: MaxExportRows}
}

// List mengambil log dengan paging.
func (s *Service) List(ctx context.Context, actor rbac.Identity, f Filters) (Result, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListLogs); err != nil {
		return Result{}, err
	}
	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.List(ctx, f, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []Row{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// MaxExportRows batas baris satu ekspor CSV.
const MaxExportRows = 50000

// Export mengambil seluruh log yang cocok untuk diekspor. Hasil di atas
// MaxExportRows ditolak; persempit filter.
func (s *Service) Export(ctx context.Context, actor rbac.Identity, f Filters) ([]Row, error) {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqListLogs); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListAll(ctx, f, s.exportLimit+1)
	if err != nil {
		return nil, err
	}
	if len(rows) > s.exportLimit {
		return nil, fmt.Errorf("%w: export exceeds %d rows, narrow the filters", shared.ErrValidation, s.exportLimit)
	}
	return rows, nil
}

// Delete removes one log entry. This is log-table administration and is not
// itself audited.
func (s *Service) Delete(ctx context.Context, actor rbac.Identity, id int64) error {
	if err := s.guard.Authorize(ctx, actor, rbac.ReqDeleteLog); err != nil {
		return err
	}
	if id <= 0 {
		return fmt.Errorf("%w: log id", shared.ErrValidation)
	}
	return s.repo.Delete(ctx, id)
}
