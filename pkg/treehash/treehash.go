package treehash

import (
	"crypto/sha256"
	"errors"

	"coldvault/pkg/types"
)

// ErrEmptySequence 表示对空摘要序列求 Tree Hash，属于调用方的编程错误
var ErrEmptySequence = errors.New("tree hash of empty digest sequence")

// SumSegment 计算单个 Segment 的叶子摘要
func SumSegment(data []byte) types.Digest {
	return sha256.Sum256(data)
}

// Combine 按目标存储协议把有序的叶子摘要合并为一个根摘要。
//
// 每一层把相邻的两个摘要拼接 (原始 32 字节，不是 Hex) 后做 SHA-256，
// 落单的末尾摘要原样进入下一层，不做自哈希也不做填充。
// 直到只剩一个摘要为止。输入切片不会被修改。
func Combine(digests []types.Digest) (types.Digest, error) {
	switch len(digests) {
	case 0:
		return types.Digest{}, ErrEmptySequence
	case 1:
		return digests[0], nil
	}

	// 只拷贝一次，后续每一层都在同一个缓冲区里原地归约
	lvl := make([]types.Digest, len(digests))
	copy(lvl, digests)

	var pair [2 * types.DigestSize]byte
	for len(lvl) > 1 {
		n := 0
		for i := 0; i < len(lvl); i += 2 {
			if i+1 < len(lvl) {
				copy(pair[:types.DigestSize], lvl[i][:])
				copy(pair[types.DigestSize:], lvl[i+1][:])
				lvl[n] = sha256.Sum256(pair[:])
			} else {
				// 奇数个节点：最后一个直接上提
				lvl[n] = lvl[i]
			}
			n++
		}
		lvl = lvl[:n]
	}
	return lvl[0], nil
}

// MustCombine 用于调用方已经保证非空的场景 (例如测试)
func MustCombine(digests []types.Digest) types.Digest {
	d, err := Combine(digests)
	if err != nil {
		panic(err)
	}
	return d
}
