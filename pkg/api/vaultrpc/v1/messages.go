// Package vaultrpc 定义 cv-server 的 gRPC 协议: 消息结构、CBOR 编解码器和服务描述
package vaultrpc

import (
	"coldvault/pkg/types"
	"coldvault/pkg/vault"
)

type InitiateUploadRequest struct {
	Vault       string `cbor:"vault"`
	Description string `cbor:"description,omitempty"`
	PartSize    int64  `cbor:"part_size"`
}

type InitiateUploadResponse struct {
	UploadID string `cbor:"upload_id"`
}

// PartHeader 是 UploadPart 流的第一帧
type PartHeader struct {
	UploadID string          `cbor:"upload_id"`
	Index    int             `cbor:"index"`
	Range    types.ByteRange `cbor:"range"`
	Checksum types.Checksum  `cbor:"checksum"`
}

// UploadPartRequest 协议约定：第一帧只带 Header，后续帧只带 Data
type UploadPartRequest struct {
	Header *PartHeader `cbor:"header,omitempty"`
	Data   []byte      `cbor:"data,omitempty"`
}

type UploadPartResponse struct {
	Index    int            `cbor:"index"`
	Checksum types.Checksum `cbor:"checksum"`
}

type CompleteUploadRequest struct {
	UploadID string         `cbor:"upload_id"`
	Size     int64          `cbor:"size"`
	Checksum types.Checksum `cbor:"checksum"`
}

type CompleteUploadResponse struct {
	ArchiveID string         `cbor:"archive_id"`
	Vault     string         `cbor:"vault"`
	Size      int64          `cbor:"size"`
	TreeHash  types.Checksum `cbor:"tree_hash"`
	Location  string         `cbor:"location,omitempty"`
}

type AbortUploadRequest struct {
	UploadID string `cbor:"upload_id"`
}

type AbortUploadResponse struct{}

type RetrieveRequest struct {
	Vault     string `cbor:"vault"`
	ArchiveID string `cbor:"archive_id"`
}

// RetrieveResponse 第一帧带 Manifest，后续帧是归档数据
type RetrieveResponse struct {
	Manifest *vault.Manifest `cbor:"manifest,omitempty"`
	Data     []byte          `cbor:"data,omitempty"`
}
