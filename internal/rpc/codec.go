package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/shop-ledger/internal/security"
)

// Request shapes. Range bounds are optional here; the engine reports
// missing bounds with the offending field.
var (
	clientRequestSchema = security.MustJSONSchemaValidator(`{
  "type": "object",
  "required": ["client_id"],
  "properties": {"client_id": {"type": "integer", "minimum": 1}}
}`)

	rangeRequestSchema = security.MustJSONSchemaValidator(`{
  "type": "object",
  "properties": {
    "from": {"type": ["string", "null"]},
    "to": {"type": ["string", "null"]}
  }
}`)

	statementRequestSchema = security.MustJSONSchemaValidator(`{
  "type": "object",
  "required": ["client_id"],
  "properties": {
    "client_id": {"type": "integer", "minimum": 1},
    "from": {"type": ["string", "null"]},
    "to": {"type": ["string", "null"]}
  }
}`)

	runningBalancesSchema = security.MustJSONSchemaValidator(`{
  "type": "object",
  "required": ["client_id", "entries"],
  "properties": {
    "client_id": {"type": "integer", "minimum": 1},
    "opening_balance": {"type": ["string", "number"]},
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "date"],
        "properties": {
          "id": {"type": "integer"},
          "client_id": {"type": "integer"},
          "date": {"type": "string"},
          "dr": {"type": ["string", "number"]},
          "cr": {"type": ["string", "number"]}
        }
      }
    }
  }
}`)
)

// toStruct round-trips v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func decodeRequest(schema *security.JSONSchemaValidator, in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := schema.ValidateBytes(raw); err != nil {
		return status.Error(codes.InvalidArgument, security.SchemaErrorMessage(err))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encodeResponse(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
