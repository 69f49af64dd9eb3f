package recon

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrReportNotFound = errors.New("report_not_found")

// Repository persists settlement files and discrepancy reports.
type Repository interface {
	FindFileByHash(ctx context.Context, hash string) (*SettlementFile, error)
	CreateFile(ctx context.Context, file *SettlementFile) error
	MarkFileProcessed(ctx context.Context, fileID uuid.UUID) error
	CreateReport(ctx context.Context, report *Report) error
	ListOpenReports(ctx context.Context, limit, offset int) ([]Report, error)
	CountOpenReports(ctx context.Context) (int64, error)
	ResolveReport(ctx context.Context, reportID uuid.UUID, resolvedBy, note string) error
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindFileByHash(ctx context.Context, hash string) (*SettlementFile, error) {
	var file SettlementFile
	err := r.db.WithContext(ctx).Where("file_hash = ?", hash).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *gormRepository) CreateFile(ctx context.Context, file *SettlementFile) error {
	return r.db.WithContext(ctx).Create(file).Error
}

func (r *gormRepository) MarkFileProcessed(ctx context.Context, fileID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&SettlementFile{}).Where("id = ?", fileID).Updates(map[string]interface{}{
		"status":       FileStatusProcessed,
		"processed_at": gorm.Expr("NOW()"),
	}).Error
}

func (r *gormRepository) CreateReport(ctx context.Context, report *Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *gormRepository) ListOpenReports(ctx context.Context, limit, offset int) ([]Report, error) {
	var reports []Report
	err := r.db.WithContext(ctx).
		Where("resolved = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&reports).Error
	return reports, err
}

func (r *gormRepository) CountOpenReports(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&Report{}).Where("resolved = ?", false).Count(&count).Error
	return count, err
}

func (r *gormRepository) ResolveReport(ctx context.Context, reportID uuid.UUID, resolvedBy, note string) error {
	res := r.db.WithContext(ctx).Model(&Report{}).
		Where("id = ? AND resolved = ?", reportID, false).
		Updates(map[string]interface{}{
			"resolved":      true,
			"resolved_by":   resolvedBy,
			"resolved_note": note,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrReportNotFound
	}
	return nil
}
