package iothub

import (
	"net/url"
	"slices"
	"strings"
)

// Content metadata used for JSON payloads.
const (
	ContentTypeJSON = "application/json"
	EncodingUTF8    = "utf-8"
)

// Message is a device-to-cloud event.
type Message struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
	MessageID       string
	CorrelationID   string
	// Properties are application properties routed alongside the body.
	Properties map[string]string
}

// NewJSONMessage returns a message carrying a UTF-8 JSON body.
func NewJSONMessage(body []byte) *Message {
	return &Message{
		Body:            body,
		ContentType:     ContentTypeJSON,
		ContentEncoding: EncodingUTF8,
		Properties:      map[string]string{},
	}
}

// WithProperty sets an application property and returns the message.
func (m *Message) WithProperty(key, value string) *Message {
	if m.Properties == nil {
		m.Properties = map[string]string{}
	}
	m.Properties[key] = value
	return m
}

// Property returns an application property.
func (m *Message) Property(key string) string {
	return m.Properties[key]
}

// propertyBag encodes system and application properties for the events
// topic. System property names start with '$' and are written literally;
// application properties are sorted so the topic is deterministic.
func (m *Message) propertyBag() string {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+url.QueryEscape(value))
		}
	}

	add(contentTypeProp, m.ContentType)
	add(contentEncProp, m.ContentEncoding)
	add(messageIDProp, m.MessageID)
	add(correlationProp, m.CorrelationID)

	keys := make([]string, 0, len(m.Properties))
	for k := range m.Properties {
		if strings.HasPrefix(k, systemPropPrefix) || k == "" {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(m.Properties[k]))
	}

	return strings.Join(parts, "&")
}
