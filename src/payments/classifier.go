package payments

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

type Topic string

const (
	TopicPayment       Topic = "payment"
	TopicMerchantOrder Topic = "merchant_order"
	TopicPreapproval   Topic = "preapproval"
)

// Notification is a classified inbound webhook. The provider is inconsistent
// about where it puts the topic and the entity id, so both body and query are
// inspected.
type Notification struct {
	Topic    Topic
	EntityID string
	Resource string
	Raw      []byte
}

func normalizeTopic(s string) (Topic, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "payment":
		return TopicPayment, true
	case "merchant_order":
		return TopicMerchantOrder, true
	case "preapproval", "subscription_preapproval":
		return TopicPreapproval, true
	}
	return "", false
}

// Classify determines topic and entity id for a raw webhook delivery.
// Returns ok=false when either cannot be determined; such notifications are
// acknowledged and dropped.
func Classify(body []byte, query url.Values) (Notification, bool) {
	n := Notification{Raw: body}

	for _, field := range []string{"type", "topic"} {
		if v := gjson.GetBytes(body, field).String(); v != "" {
			if t, ok := normalizeTopic(v); ok {
				n.Topic = t
				break
			}
		}
	}
	if n.Topic == "" {
		for _, field := range []string{"type", "topic"} {
			if t, ok := normalizeTopic(query.Get(field)); ok {
				n.Topic = t
				break
			}
		}
	}

	// id priority: body data.id, then query, then the resource URL tail
	if v := gjson.GetBytes(body, "data.id"); v.Exists() {
		n.EntityID = v.String()
	}
	if n.EntityID == "" {
		for _, field := range []string{"data.id", "id"} {
			if v := query.Get(field); v != "" {
				n.EntityID = v
				break
			}
		}
	}
	if res := gjson.GetBytes(body, "resource").String(); res != "" {
		n.Resource = res
		if n.EntityID == "" {
			n.EntityID = lastPathSegment(res)
		}
	}

	if n.Topic == "" || n.EntityID == "" {
		return n, false
	}
	return n, true
}

func lastPathSegment(resource string) string {
	res := strings.TrimSuffix(resource, "/")
	if u, err := url.Parse(res); err == nil && u.Path != "" {
		res = u.Path
	}
	idx := strings.LastIndex(res, "/")
	if idx < 0 {
		return res
	}
	return res[idx+1:]
}
