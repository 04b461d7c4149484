package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todo-sync/server/internal/diag"
	"todo-sync/server/internal/model"
)

func TestDecodeValidEvent(t *testing.T) {
	raw := `{"eventType":"TODO_CREATED","payload":{"id":"1","title":"Patrol","completed":false,"createdAt":"t0"},"timestamp":1700000000123}`

	res := Decode([]byte(raw))
	require.True(t, res.OK())
	require.Nil(t, res.Diagnostic)

	assert.Equal(t, model.EventTypeTaskCreated, res.Event.Type)
	assert.Equal(t, model.Task{ID: "1", Title: "Patrol", Completed: false, CreatedAt: "t0"}, res.Event.Task)
	assert.Equal(t, int64(1700000000123), res.Event.Timestamp)
}

// TestDecodeMalformedText 验证非 JSON 文本被丢弃，诊断附带原始文本。
func TestDecodeMalformedText(t *testing.T) {
	res := Decode([]byte("{not json"))
	require.False(t, res.OK())
	require.NotNil(t, res.Diagnostic)

	assert.Equal(t, diag.KindDecode, res.Diagnostic.Kind)
	assert.Equal(t, "{not json", res.Diagnostic.Raw)
	assert.Error(t, res.Diagnostic.Err)
}

func TestDecodeEnvelopeRejected(t *testing.T) {
	cases := map[string]string{
		"array":             `[1,2,3]`,
		"null":              `null`,
		"string":            `"TODO_CREATED"`,
		"missing eventType": `{"payload":{},"timestamp":1}`,
		"missing payload":   `{"eventType":"TODO_CREATED","timestamp":1}`,
		"missing timestamp": `{"eventType":"TODO_CREATED","payload":{}}`,
		"eventType number":  `{"eventType":7,"payload":{},"timestamp":1}`,
		"timestamp string":  `{"eventType":"TODO_CREATED","payload":{},"timestamp":"now"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			res := Decode([]byte(raw))
			require.False(t, res.OK())
			assert.Equal(t, diag.KindEnvelope, res.Diagnostic.Kind)
		})
	}
}

// TestDecodePartialPayload 验证 payload 只有 id 时在负载校验阶段被丢弃。
func TestDecodePartialPayload(t *testing.T) {
	res := Decode([]byte(`{"eventType":"TODO_UPDATED","payload":{"id":"1"},"timestamp":1}`))
	require.False(t, res.OK())

	assert.Equal(t, diag.KindPayload, res.Diagnostic.Kind)
	assert.Equal(t, map[string]any{"id": "1"}, res.Diagnostic.Raw)
}

func TestDecodeNullPayload(t *testing.T) {
	res := Decode([]byte(`{"eventType":"TODO_DELETED","payload":null,"timestamp":1}`))
	require.False(t, res.OK())
	assert.Equal(t, diag.KindPayload, res.Diagnostic.Kind)
}

func TestDecodeUnknownEventType(t *testing.T) {
	raw := `{"eventType":"TODO_ARCHIVED","payload":{"id":"1","title":"a","completed":true,"createdAt":"t0"},"timestamp":1}`

	res := Decode([]byte(raw))
	require.False(t, res.OK())
	assert.Equal(t, diag.KindUnknownEventType, res.Diagnostic.Kind)
	assert.ErrorIs(t, res.Diagnostic.Err, ErrUnknownEventType)
}

func TestDecodeExtraFieldsIgnored(t *testing.T) {
	raw := `{"eventType":"TODO_UPDATED","payload":{"id":"1","title":"a","completed":true,"createdAt":"t0","owner":{"name":"x"}},"timestamp":1.5e3,"source":"relay"}`

	res := Decode([]byte(raw))
	require.True(t, res.OK())
	assert.Equal(t, "1", res.Event.Task.ID)
	assert.True(t, res.Event.Task.Completed)
	assert.Equal(t, int64(1500), res.Event.Timestamp)
}
