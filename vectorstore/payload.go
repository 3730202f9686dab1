package vectorstore

import "github.com/qdrant/go-client/qdrant"

// payloadToMap converts a Qdrant payload back to plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	var out = make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return v.GetStringValue()
	case *qdrant.Value_IntegerValue:
		return v.GetIntegerValue()
	case *qdrant.Value_DoubleValue:
		return v.GetDoubleValue()
	case *qdrant.Value_BoolValue:
		return v.GetBoolValue()
	case *qdrant.Value_ListValue:
		var vals = v.GetListValue().GetValues()
		var out = make([]any, 0, len(vals))
		for _, item := range vals {
			out = append(out, valueToAny(item))
		}
		return out
	case *qdrant.Value_StructValue:
		return payloadToMap(v.GetStructValue().GetFields())
	default:
		return nil
	}
}
