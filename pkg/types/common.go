// pkg/types/common.go
package types

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	MiB = 1024 * 1024

	// SegmentSize 是单个叶子摘要覆盖的字节数，由目标存储的协议固定
	SegmentSize = 1 * MiB

	MinPartSize = 1 * MiB
	MaxPartSize = 4096 * MiB

	// MaxParts 是单个归档最多的分片数，与 Glacier / S3 multipart 的限制一致
	MaxParts = 10000

	DigestSize = 32
)

var (
	ErrInvalidPartSize = errors.New("invalid part size")
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrTooManyParts    = errors.New("too many parts")
)

// Digest 是原始的 32 字节 SHA-256 值
// Tree Hash 合并时只使用原始字节，绝不使用 Hex 文本
type Digest [DigestSize]byte

// Checksum 返回对外上报用的小写 Hex 形式
func (d Digest) Checksum() Checksum { return Checksum(hex.EncodeToString(d[:])) }

func (d Digest) String() string { return d.Checksum().String() }

// Checksum 代表对外暴露的校验和 (SHA256 Hex String, lowercase)
// 这是一个“值对象”，应当是不可变的。
type Checksum string

func (c Checksum) String() string { return string(c) }

func (c Checksum) IsZero() bool { return c == "" }

// IsValid 要求 64 个小写 hex 字符
func (c Checksum) IsValid() bool {
	if len(c) != 2*DigestSize {
		return false
	}
	for i := 0; i < len(c); i++ {
		ch := c[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

// Short 返回前 8 位，仅用于日志展示
func (c Checksum) Short() string {
	if len(c) < 8 {
		return string(c)
	}
	return string(c[:8])
}

// Digest 把 Hex 还原为原始字节
func (c Checksum) Digest() (Digest, error) {
	var d Digest
	if !c.IsValid() {
		return d, fmt.Errorf("%w: %q", ErrInvalidChecksum, string(c))
	}
	if _, err := hex.Decode(d[:], []byte(c)); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return d, nil
}

// ParseChecksum 接受大小写混合的输入，统一为小写
func ParseChecksum(s string) (Checksum, error) {
	c := Checksum(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChecksum, s)
	}
	return c, nil
}

// ByteRange 是闭区间 [Start, Stop]
type ByteRange struct {
	Start int64 `cbor:"a" json:"start"`
	Stop  int64 `cbor:"b" json:"stop"`
}

// Len 返回区间覆盖的字节数
func (r ByteRange) Len() int64 { return r.Stop - r.Start + 1 }

func (r ByteRange) IsValid() bool { return r.Start >= 0 && r.Stop >= r.Start }

// ContentRange 生成对外协议使用的 Range 头: "bytes 0-1048575/*"
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/*", r.Start, r.Stop)
}

func (r ByteRange) String() string { return fmt.Sprintf("%d-%d", r.Start, r.Stop) }

// ParseContentRange 是 ContentRange 的逆操作
func ParseContentRange(s string) (ByteRange, error) {
	var r ByteRange
	if _, err := fmt.Sscanf(s, "bytes %d-%d/*", &r.Start, &r.Stop); err != nil {
		return ByteRange{}, fmt.Errorf("malformed content range %q: %w", s, err)
	}
	if !r.IsValid() {
		return ByteRange{}, fmt.Errorf("malformed content range %q", s)
	}
	return r, nil
}

// ValidatePartSize 检查分片大小: 2 的幂，且在 [1 MiB, 4096 MiB] 之间
func ValidatePartSize(size int64) error {
	if size < MinPartSize || size > MaxPartSize {
		return fmt.Errorf("%w: %d not within %d-%d bytes", ErrInvalidPartSize, size, int64(MinPartSize), int64(MaxPartSize))
	}
	if size&(size-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrInvalidPartSize, size)
	}
	return nil
}

// PartSizeFromMB 把命令行/配置里的 MB 数转换为字节并校验
func PartSizeFromMB(mb int64) (int64, error) {
	if mb < 1 || mb > MaxPartSize/MiB {
		return 0, fmt.Errorf("%w: part size not within range 1-4096: %d", ErrInvalidPartSize, mb)
	}
	if mb&(mb-1) != 0 {
		return 0, fmt.Errorf("%w: part size not power of 2: %d", ErrInvalidPartSize, mb)
	}
	return mb * MiB, nil
}

// PartCount 返回 size 字节按 partSize 切分后的分片数
func PartCount(size, partSize int64) int64 {
	return (size + partSize - 1) / partSize
}

// CheckPartCount 在上传开始前拒绝超过 MaxParts 的归档
func CheckPartCount(size, partSize int64) error {
	if n := PartCount(size, partSize); n > MaxParts {
		return fmt.Errorf("%w: %d bytes in %d byte parts needs %d parts, limit is %d (use a larger part size)",
			ErrTooManyParts, size, partSize, n, MaxParts)
	}
	return nil
}
