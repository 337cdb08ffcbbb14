package vault

import (
	"testing"
	"time"

	"coldvault/pkg/treehash"
	"coldvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *Manifest {
	return &Manifest{
		ArchiveID:   "a-1",
		Vault:       "photos",
		Description: "2024 backup",
		Size:        3 * types.MiB,
		PartSize:    2 * types.MiB,
		TreeHash:    treehash.SumSegment([]byte("root")).Checksum(),
		Parts: []PartRecord{
			{Index: 0, Range: types.ByteRange{Start: 0, Stop: 2*types.MiB - 1}, Checksum: treehash.SumSegment([]byte("p0")).Checksum()},
			{Index: 1, Range: types.ByteRange{Start: 2 * types.MiB, Stop: 3*types.MiB - 1}, Checksum: treehash.SumSegment([]byte("p1")).Checksum()},
		},
		CreatedAt: time.Unix(1700000000, 0).Unix(),
	}
}

func TestManifest_EncodeDecode(t *testing.T) {
	m := sampleManifest()

	data, err := EncodeManifest(m)
	require.NoError(t, err)

	// Canonical: 同样的输入必须得到同样的字节
	again, err := EncodeManifest(sampleManifest())
	require.NoError(t, err)
	assert.Equal(t, data, again)

	back, err := DecodeManifest(data)
	require.NoError(t, err)
	assert.Equal(t, m, back)

	_, err = DecodeManifest([]byte{0xff, 0x00})
	assert.Error(t, err)
}

func TestManifest_Validate(t *testing.T) {
	m := sampleManifest()
	assert.NoError(t, m.Validate())

	gap := sampleManifest()
	gap.Parts[1].Range.Start++
	assert.ErrorIs(t, gap.Validate(), ErrRangeInvalid)

	short := sampleManifest()
	short.Size++
	assert.ErrorIs(t, short.Validate(), ErrRangeInvalid)

	shuffled := sampleManifest()
	shuffled.Parts[0], shuffled.Parts[1] = shuffled.Parts[1], shuffled.Parts[0]
	assert.Error(t, shuffled.Validate())
	shuffled.SortParts()
	assert.NoError(t, shuffled.Validate())
}

func TestCheckPart(t *testing.T) {
	body := []byte("part body")
	sum, err := treehash.SumBytes(body)
	require.NoError(t, err)

	assert.NoError(t, CheckPart(body, sum.Checksum()))
	assert.ErrorIs(t, CheckPart([]byte("tampered"), sum.Checksum()), ErrChecksumMismatch)
	assert.ErrorIs(t, CheckPart(nil, sum.Checksum()), ErrRangeInvalid)
}

func TestCheckAlignment(t *testing.T) {
	const ps = 4
	tests := []struct {
		name    string
		r       types.ByteRange
		index   int
		bodyLen int
		wantErr bool
	}{
		{"first full part", types.ByteRange{Start: 0, Stop: 3}, 0, 4, false},
		{"short last part", types.ByteRange{Start: 8, Stop: 8}, 2, 1, false},
		{"body length mismatch", types.ByteRange{Start: 0, Stop: 3}, 0, 3, true},
		{"misaligned start", types.ByteRange{Start: 1, Stop: 4}, 0, 4, true},
		{"oversized part", types.ByteRange{Start: 0, Stop: 7}, 0, 8, true},
		{"wrong index", types.ByteRange{Start: 4, Stop: 7}, 0, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAlignment(tt.r, tt.index, ps, tt.bodyLen)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRangeInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func manifestWithParts(n int) *Manifest {
	sum := treehash.SumSegment([]byte("part")).Checksum()
	m := &Manifest{ArchiveID: "big", Vault: "v", Size: int64(n) * types.MiB, PartSize: types.MiB, TreeHash: sum}
	for i := 0; i < n; i++ {
		start := int64(i) * types.MiB
		m.Parts = append(m.Parts, PartRecord{Index: i, Range: types.ByteRange{Start: start, Stop: start + types.MiB - 1}, Checksum: sum})
	}
	return m
}

func TestManifest_PartLimit(t *testing.T) {
	t.Run("At limit round-trips", func(t *testing.T) {
		m := manifestWithParts(types.MaxParts)
		require.NoError(t, m.Validate())

		raw, err := EncodeManifest(m)
		require.NoError(t, err)
		back, err := DecodeManifest(raw)
		require.NoError(t, err)
		assert.Len(t, back.Parts, types.MaxParts)
	})

	t.Run("Over limit rejected", func(t *testing.T) {
		m := manifestWithParts(types.MaxParts + 1)
		assert.ErrorIs(t, m.Validate(), types.ErrTooManyParts)
	})

	t.Run("Part index beyond limit", func(t *testing.T) {
		start := int64(types.MaxParts) * types.MiB
		r := types.ByteRange{Start: start, Stop: start + 9}
		assert.ErrorIs(t, CheckAlignment(r, types.MaxParts, types.MiB, 10), types.ErrTooManyParts)
	})
}
