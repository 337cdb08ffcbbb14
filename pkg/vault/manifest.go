package vault

import (
	"fmt"
	"sort"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// 定义 Canonical CBOR 编码选项
var encOptions = cbor.EncOptions{
	// 1. 强制 Map Key 排序 (Canonical)
	// 保证相同的 Manifest 生成相同的字节
	Sort: cbor.SortCanonical,

	// 2. 时间格式化为 Unix 整数
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,

	// 3. 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 限制容器元素数量和嵌套深度，防止恶意构造的头部耗尽内存
	// 分片数在上传前已经限制在 MaxParts 以内
	MaxArrayElements: 4 * types.MaxParts,
	MaxMapPairs:      1000,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
}

var dm, _ = decOptions.DecMode()

// PartRecord 记录一个分片的区间和 Tree Hash
type PartRecord struct {
	Index    int             `cbor:"i" json:"index"`
	Range    types.ByteRange `cbor:"r" json:"range"`
	Checksum types.Checksum  `cbor:"c" json:"checksum"`
}

// Manifest 是归档的元数据 (sidecar)，与数据一起保存
type Manifest struct {
	ArchiveID   string         `cbor:"id"`
	Vault       string         `cbor:"v"`
	Description string         `cbor:"d,omitempty"`
	Size        int64          `cbor:"s"`
	PartSize    int64          `cbor:"ps"`
	TreeHash    types.Checksum `cbor:"th"`
	Parts       []PartRecord   `cbor:"p"`
	CreatedAt   int64          `cbor:"t"`
}

// EncodeManifest 使用 Canonical CBOR 序列化
func EncodeManifest(m *Manifest) ([]byte, error) {
	data, err := em.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return data, nil
}

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := dm.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// SortParts 按 Index 排序
func (m *Manifest) SortParts() {
	sort.Slice(m.Parts, func(i, j int) bool { return m.Parts[i].Index < m.Parts[j].Index })
}

// Validate 检查分片是否从 0 开始连续覆盖整个归档
func (m *Manifest) Validate() error {
	if len(m.Parts) > types.MaxParts {
		return fmt.Errorf("%w: manifest lists %d parts, limit is %d", types.ErrTooManyParts, len(m.Parts), types.MaxParts)
	}
	var next int64
	for i, p := range m.Parts {
		if p.Index != i || p.Range.Start != next || !p.Range.IsValid() {
			return fmt.Errorf("%w: part %d covers %s, expected start %d", ErrRangeInvalid, p.Index, p.Range, next)
		}
		next = p.Range.Stop + 1
	}
	if next != m.Size {
		return fmt.Errorf("%w: parts cover %d bytes, archive size is %d", ErrRangeInvalid, next, m.Size)
	}
	return nil
}

// CheckPart 重新计算分片的 Tree Hash 并与声明值比对
// 这是远端存储端到端校验的核心
func CheckPart(body []byte, claimed types.Checksum) error {
	got, err := treehash.SumBytes(body)
	if err != nil {
		return fmt.Errorf("%w: empty part", ErrRangeInvalid)
	}
	if got.Checksum() != claimed {
		return fmt.Errorf("%w: claimed %s, computed %s", ErrChecksumMismatch, claimed.Short(), got.Checksum().Short())
	}
	return nil
}

// CheckAlignment 检查分片区间是否与分片大小对齐
// 除最后一片外，每片长度必须等于 partSize
func CheckAlignment(r types.ByteRange, index int, partSize int64, bodyLen int) error {
	if !r.IsValid() || r.Len() != int64(bodyLen) {
		return fmt.Errorf("%w: range %s does not match body length %d", ErrRangeInvalid, r, bodyLen)
	}
	if index >= types.MaxParts {
		return fmt.Errorf("%w: part %d, limit is %d", types.ErrTooManyParts, index, types.MaxParts)
	}
	if r.Start != int64(index)*partSize || r.Len() > partSize {
		return fmt.Errorf("%w: range %s is not part %d of size %d", ErrRangeInvalid, r, index, partSize)
	}
	return nil
}
