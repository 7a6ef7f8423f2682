package messaging

import (
	"bytes"
	"encoding/json"
)

type snsNotification struct {
	Type              string `json:"Type"`
	Message           string `json:"Message"`
	MessageAttributes map[string]struct {
		Type  string `json:"Type"`
		Value string `json:"Value"`
	} `json:"MessageAttributes"`
}

type eventBridgeEvent struct {
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// Unwrap strips transport envelopes from body. An SNS notification delivered
// to SQS without raw delivery carries the payload in Message and its
// attributes in MessageAttributes; an EventBridge event carries it in
// detail. Anything else is returned unchanged. Attributes found in the
// envelope are merged under attrs, which win on conflict.
func Unwrap(body []byte, attrs map[string]string) ([]byte, map[string]string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body, attrs
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return body, attrs
	}

	if _, ok := probe["Message"]; ok && hasString(probe["Type"], "Notification") {
		var n snsNotification
		if err := json.Unmarshal(trimmed, &n); err == nil {
			merged := make(map[string]string, len(n.MessageAttributes)+len(attrs))
			for k, v := range n.MessageAttributes {
				merged[k] = v.Value
			}
			for k, v := range attrs {
				merged[k] = v
			}
			return []byte(n.Message), merged
		}
	}

	if _, ok := probe["detail-type"]; ok {
		var ev eventBridgeEvent
		if err := json.Unmarshal(trimmed, &ev); err == nil && len(ev.Detail) > 0 {
			return ev.Detail, attrs
		}
	}

	return body, attrs
}

func hasString(raw json.RawMessage, want string) bool {
	var s string
	return json.Unmarshal(raw, &s) == nil && s == want
}
