package meta

import (
	"time"

	"gorm.io/datatypes"
)

// ArchiveModel 是已完成归档的索引 (对应远端的一个 archive)
// 用于 cv list 和按 Tree Hash 查重
type ArchiveModel struct {
	// ArchiveID 是远端分配的 id
	ArchiveID string `gorm:"primaryKey;type:varchar(255)"`

	Vault       string `gorm:"index:idx_archive_vault_hash;type:varchar(255);not null"`
	Description string `gorm:"type:text"`
	SizeBytes   int64
	PartSize    int64

	// 整体 Tree Hash，同一 vault 里按它查重
	TreeHash string `gorm:"index:idx_archive_vault_hash;type:char(64);not null"`

	// Parts: 每个分片的区间和 Tree Hash
	// [{"index":0,"range":{"start":0,"stop":1048575},"checksum":"..."}]
	Parts datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
}

// TableName 强制指定表名
func (ArchiveModel) TableName() string {
	return "archives"
}

type UploadStatus string

const (
	UploadInProgress UploadStatus = "in_progress"
	UploadCompleted  UploadStatus = "completed"
	UploadAborted    UploadStatus = "aborted"
	UploadFailed     UploadStatus = "failed"
)

// UploadModel 记录 cv-server 上每个上传会话的状态
type UploadModel struct {
	UploadID  string       `gorm:"primaryKey;type:varchar(255)"`
	Vault     string       `gorm:"index;type:varchar(255)"`
	Status    UploadStatus `gorm:"type:varchar(32);not null"`
	Offset    int64        `gorm:"column:committed_offset"` // 已确认的字节数
	ArchiveID string       `gorm:"type:varchar(255)"`
	Error     string       `gorm:"type:text"`
	UpdatedAt time.Time
}

func (UploadModel) TableName() string {
	return "uploads"
}

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&ArchiveModel{}, &UploadModel{}}
}
