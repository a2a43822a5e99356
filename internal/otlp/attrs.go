package otlp

import (
	"encoding/hex"
	"strconv"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"

	"github.com/wessleyai/otelwarehouse/internal/model"
)

// toHex lowercases and hex-encodes a protobuf byte-string id. An empty or nil
// id (e.g. a root span's parent id) decodes to the empty string.
func toHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

// anyValueToString stringifies an OTLP AnyValue following the first-present-wins
// rule: string, then int, then double, then bool; booleans render lowercase
// "true"/"false"; any other (or unset) variant falls back to a stable string form.
func anyValueToString(v *commonpb.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.GetValue().(type) {
	case *commonpb.AnyValue_StringValue:
		return val.StringValue
	case *commonpb.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonpb.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'g', -1, 64)
	case *commonpb.AnyValue_BoolValue:
		if val.BoolValue {
			return "true"
		}
		return "false"
	case *commonpb.AnyValue_BytesValue:
		return hex.EncodeToString(val.BytesValue)
	case *commonpb.AnyValue_ArrayValue, *commonpb.AnyValue_KvlistValue:
		// Unknown-for-our-purposes composite kinds: stringify the containing value.
		return v.String()
	default:
		return ""
	}
}

// kvSlice converts OTLP KeyValue pairs into ordered KVs, preserving payload order.
func kvSlice(kvs []*commonpb.KeyValue) []model.KV {
	if len(kvs) == 0 {
		return nil
	}
	out := make([]model.KV, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, model.KV{Key: kv.GetKey(), Value: anyValueToString(kv.GetValue())})
	}
	return out
}
