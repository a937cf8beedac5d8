// Package transformer runs a user-supplied JavaScript payload transformer.
// The script must define a transform(payload) function; it receives the
// outgoing JSON document as a string and returns the value to publish
// instead.
package transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

// Transformer wraps one JavaScript runtime. The runtime is single-threaded,
// so every Transform call serializes on the mutex.
type Transformer struct {
	mu        sync.Mutex
	vm        *goja.Runtime
	transform goja.Callable
}

// NewFromFile loads and compiles the script at path.
func NewFromFile(path string) (*Transformer, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load transform script %s: %w", path, err)
	}
	return New(string(script))
}

// New compiles scriptCode and resolves its transform function.
func New(scriptCode string) (*Transformer, error) {
	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		log.Info().Str("source", "transform-script").Msg(msg)
	})

	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			log.Warn().Err(err).Msg("Transform script parseJSON failed")
			return nil
		}
		return data
	})

	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02 15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})

	_ = vm.Set("validateRange", func(value float64, min float64, max float64) bool {
		return value >= min && value <= max
	})

	if _, err := vm.RunString(scriptCode); err != nil {
		return nil, fmt.Errorf("run transform script: %w", err)
	}

	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("transform script does not define a 'transform' function")
	}

	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' is not a function")
	}

	return &Transformer{
		vm:        vm,
		transform: transform,
	}, nil
}

// Transform feeds one JSON document through the script and returns the
// replacement document.
func (t *Transformer) Transform(data []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, err := t.transform(goja.Undefined(), t.vm.ToValue(string(data)))
	if err != nil {
		return nil, fmt.Errorf("execute transform: %w", err)
	}

	jsResult := result.Export()

	// A string result is published verbatim, anything else as JSON.
	if s, ok := jsResult.(string); ok {
		return []byte(s), nil
	}

	out, err := json.Marshal(jsResult)
	if err != nil {
		return nil, fmt.Errorf("serialize transform result: %w", err)
	}

	return out, nil
}
