package transformer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformObjectResult(t *testing.T) {
	tr, err := New(`
function transform(payload) {
	var doc = parseJSON(payload);
	return {
		serial: doc.serial_no,
		soc: doc.battery_percent,
		in_range: validateRange(doc.battery_percent, 0, 100)
	};
}
`)
	require.NoError(t, err)

	out, err := tr.Transform([]byte(`{"serial_no":"A1B2","battery_percent":87}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"serial":"A1B2","soc":87,"in_range":true}`, string(out))
}

func TestTransformStringResult(t *testing.T) {
	tr, err := New(`function transform(payload) { return "raw:" + payload; }`)
	require.NoError(t, err)

	out, err := tr.Transform([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "raw:{}", string(out))
}

func TestTransformErrors(t *testing.T) {
	_, err := New(`var x = 1;`)
	assert.Error(t, err, "missing transform function")

	_, err = New(`var transform = 42;`)
	assert.Error(t, err, "transform is not a function")

	_, err = New(`function transform(`)
	assert.Error(t, err, "syntax error")

	tr, err := New(`function transform(payload) { throw new Error("boom"); }`)
	require.NoError(t, err)
	_, err = tr.Transform([]byte(`{}`))
	assert.Error(t, err)
}
