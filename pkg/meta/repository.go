package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coldvault/pkg/types"
	"coldvault/pkg/vault"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrArchiveNotFound = errors.New("archive not found in catalog")
	ErrUploadNotFound  = errors.New("upload not found in catalog")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// -----------------------------------------------------------------------------
// 1. 归档索引 (Archives)
// -----------------------------------------------------------------------------

// SaveArchive 将 Manifest “投影”到 SQL 数据库中
func (r *Repository) SaveArchive(ctx context.Context, m *vault.Manifest) error {
	if m.ArchiveID == "" {
		return fmt.Errorf("manifest has no archive id")
	}
	partsJSON, err := json.Marshal(m.Parts)
	if err != nil {
		return fmt.Errorf("failed to marshal parts: %w", err)
	}

	model := ArchiveModel{
		ArchiveID:   m.ArchiveID,
		Vault:       m.Vault,
		Description: m.Description,
		SizeBytes:   m.Size,
		PartSize:    m.PartSize,
		TreeHash:    m.TreeHash.String(),
		Parts:       datatypes.JSON(partsJSON),
		CreatedAt:   time.Unix(m.CreatedAt, 0),
	}

	// 幂等写入: ArchiveID 已存在则什么都不做
	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "archive_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}
	return nil
}

func (r *Repository) GetArchive(ctx context.Context, archiveID string) (*ArchiveModel, error) {
	var a ArchiveModel
	err := r.db.GetConn().WithContext(ctx).
		Where("archive_id = ?", archiveID).
		First(&a).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByTreeHash 返回同一 vault 里内容相同的最新归档，找不到返回 nil
func (r *Repository) FindByTreeHash(ctx context.Context, vaultName string, treeHash types.Checksum) (*ArchiveModel, error) {
	var a ArchiveModel
	err := r.db.GetConn().WithContext(ctx).
		Where("vault = ? AND tree_hash = ?", vaultName, treeHash.String()).
		Order("created_at DESC").
		First(&a).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListArchives 按时间倒序列出归档，vaultName 为空时列出全部
func (r *Repository) ListArchives(ctx context.Context, vaultName string, limit int) ([]ArchiveModel, error) {
	var archives []ArchiveModel
	q := r.db.GetConn().WithContext(ctx).Order("created_at DESC")
	if vaultName != "" {
		q = q.Where("vault = ?", vaultName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&archives).Error
	return archives, err
}

// RecordArchive 和 LookupArchive 让 Repository 可以直接作为上传的 Catalog
func (r *Repository) RecordArchive(ctx context.Context, m *vault.Manifest) error {
	return r.SaveArchive(ctx, m)
}

func (r *Repository) LookupArchive(ctx context.Context, vaultName string, treeHash types.Checksum) (string, bool, error) {
	a, err := r.FindByTreeHash(ctx, vaultName, treeHash)
	if err != nil || a == nil {
		return "", false, err
	}
	return a.ArchiveID, true, nil
}

// Manifest 把索引行还原成 Manifest
func (a *ArchiveModel) Manifest() (*vault.Manifest, error) {
	m := &vault.Manifest{
		ArchiveID:   a.ArchiveID,
		Vault:       a.Vault,
		Description: a.Description,
		Size:        a.SizeBytes,
		PartSize:    a.PartSize,
		TreeHash:    types.Checksum(a.TreeHash),
		CreatedAt:   a.CreatedAt.Unix(),
	}
	if len(a.Parts) > 0 {
		if err := json.Unmarshal(a.Parts, &m.Parts); err != nil {
			return nil, fmt.Errorf("corrupt parts for archive %s: %w", a.ArchiveID, err)
		}
	}
	return m, nil
}

// -----------------------------------------------------------------------------
// 2. 上传会话 (Uploads)
// -----------------------------------------------------------------------------

// RecordUpload 写入或更新一个上传会话的状态
func (r *Repository) RecordUpload(ctx context.Context, u *UploadModel) error {
	u.UpdatedAt = time.Now()
	err := r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "upload_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "committed_offset", "archive_id", "error", "updated_at"}),
		}).
		Create(u).Error
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

func (r *Repository) GetUpload(ctx context.Context, uploadID string) (*UploadModel, error) {
	var u UploadModel
	err := r.db.GetConn().WithContext(ctx).
		Where("upload_id = ?", uploadID).
		First(&u).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
