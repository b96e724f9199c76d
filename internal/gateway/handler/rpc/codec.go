package rpc

import "encoding/json"

// jsonCodec marshals plain Go structs. It takes the "json" codec name so
// Connect clients using application/connect+json interoperate without
// generated protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
