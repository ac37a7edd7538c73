package payments

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyBodyFields(t *testing.T) {
	body := []byte(`{"type":"payment","data":{"id":"12345"}}`)
	n, ok := Classify(body, url.Values{})
	assert.True(t, ok)
	assert.Equal(t, TopicPayment, n.Topic)
	assert.Equal(t, "12345", n.EntityID)
}

func TestClassifyQueryFallback(t *testing.T) {
	q := url.Values{}
	q.Set("topic", "merchant_order")
	q.Set("id", "987")
	n, ok := Classify([]byte(`{}`), q)
	assert.True(t, ok)
	assert.Equal(t, TopicMerchantOrder, n.Topic)
	assert.Equal(t, "987", n.EntityID)
}

func TestClassifyResourceURLTail(t *testing.T) {
	body := []byte(`{"topic":"merchant_order","resource":"https://api.mercadolibre.com/merchant_orders/555111"}`)
	n, ok := Classify(body, url.Values{})
	assert.True(t, ok)
	assert.Equal(t, TopicMerchantOrder, n.Topic)
	assert.Equal(t, "555111", n.EntityID)
}

func TestClassifyIDPriority(t *testing.T) {
	// body data.id wins over query id and resource tail
	body := []byte(`{"type":"payment","data":{"id":"111"},"resource":"/v1/payments/333"}`)
	q := url.Values{}
	q.Set("id", "222")
	n, ok := Classify(body, q)
	assert.True(t, ok)
	assert.Equal(t, "111", n.EntityID)
}

func TestClassifyPreapprovalSynonyms(t *testing.T) {
	for _, topic := range []string{"preapproval", "subscription_preapproval"} {
		body := []byte(`{"type":"` + topic + `","data":{"id":"pre_1"}}`)
		n, ok := Classify(body, url.Values{})
		assert.True(t, ok, topic)
		assert.Equal(t, TopicPreapproval, n.Topic, topic)
	}
}

func TestClassifyUndetermined(t *testing.T) {
	_, ok := Classify([]byte(`{"data":{"id":"1"}}`), url.Values{})
	assert.False(t, ok, "missing topic should drop")

	_, ok = Classify([]byte(`{"type":"payment"}`), url.Values{})
	assert.False(t, ok, "missing id should drop")

	_, ok = Classify([]byte(`not json at all`), url.Values{})
	assert.False(t, ok)
}

func TestClassifyUnknownTopicDropped(t *testing.T) {
	body := []byte(`{"type":"chargebacks","data":{"id":"5"}}`)
	_, ok := Classify(body, url.Values{})
	assert.False(t, ok)
}
