package testhelpers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// AssertJSONPath decodes body and compares the value at a dotted path
// ("data.state", "data.sla.tta_breached") with want. Values are compared in
// their JSON form so an int matches the float64 the decoder produces.
func AssertJSONPath(t *testing.T, body, path string, want interface{}) {
	t.Helper()

	var cur interface{}
	if err := json.Unmarshal([]byte(body), &cur); err != nil {
		t.Fatalf("%s: response is not JSON: %v", path, err)
	}
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			t.Errorf("%s: %q is not inside an object", path, key)
			return
		}
		if cur, ok = obj[key]; !ok {
			t.Errorf("%s: missing key %q", path, key)
			return
		}
	}

	wantJSON, _ := json.Marshal(want)
	gotJSON, _ := json.Marshal(cur)
	if string(wantJSON) != string(gotJSON) {
		t.Errorf("%s = %s, want %s", path, gotJSON, wantJSON)
	}
}

// WriteTestFile writes content under dir, creating parent directories.
func WriteTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// RunConcurrently starts n goroutines, releases them together and waits for
// all of them. Used to race transitions, group lookups and escalation claims
// against each other. Fails the test if they do not finish within timeout.
func RunConcurrently(t *testing.T, timeout time.Duration, n int, fn func(worker int)) {
	t.Helper()

	MustCompleteWithin(t, timeout, func() {
		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(id int) {
				defer wg.Done()
				<-start
				fn(id)
			}(i)
		}
		close(start)
		wg.Wait()
	})
}
