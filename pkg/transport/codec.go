package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is negotiated as the gRPC call content-subtype
// ("application/grpc+json") in place of the default proto codec. No protoc
// toolchain is available in this build, so every wire message here is a
// plain JSON-taggable Go struct rather than a generated proto.Message.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
