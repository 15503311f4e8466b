package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one structured JSON line to stdout. Every lifecycle transition,
// cycle result, execution and alert in the system goes through here.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// LogError is Log with an error field attached.
func LogError(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["error"] = err.Error()
	Log(event, kv)
}
