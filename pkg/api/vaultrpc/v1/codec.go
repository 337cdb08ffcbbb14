package vaultrpc

import (
	"fmt"

	"coldvault/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName 是注册到 gRPC 的 content-subtype: application/grpc+cbor
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vaultrpc: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		// RetrieveResponse 的 Manifest 最多 MaxParts 个分片
		MaxArrayElements: 4 * types.MaxParts,
		MaxMapPairs:      1000,
		MaxNestedLevels:  16,
		IndefLength:      cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("vaultrpc: cbor dec mode: %v", err))
	}
	encoding.RegisterCodec(Codec{})
}

// Codec 实现了 encoding.Codec，让 gRPC 直接传输 CBOR 编码的 Go 结构体
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}
