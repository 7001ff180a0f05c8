// Package grpcjson registers a JSON codec with gRPC so plain Go structs can
// travel over gRPC without generated protobuf types.
//
// Clients select it per call with grpc.CallContentSubtype(grpcjson.Name) (or
// as a default call option); servers pick it up from the request's
// content-subtype once this package is imported.
package grpcjson

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const Name = "json"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (codec) Name() string {
	return Name
}

func init() {
	encoding.RegisterCodec(codec{})
}
