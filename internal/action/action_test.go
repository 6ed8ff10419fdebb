package action

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestCompileBlockDefaultsStatus403(t *testing.T) {
	var raw Raw
	if err := yaml.Unmarshal([]byte("block:\n  reason: bad\n"), &raw); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	a, err := Compile(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if a.Kind != KindBlock || a.Status != 403 {
		t.Fatalf("got %+v", a)
	}
}

func TestCompileCcRejectsNestedCcOnLimit(t *testing.T) {
	doc := `
cc:
  key_parts: [client_ip]
  window_secs: 60
  max_requests: 10
  block_secs: 60
  on_limit:
    cc:
      key_parts: [client_ip]
      window_secs: 1
      max_requests: 1
      block_secs: 1
      on_limit:
        log:
          reason: nested
`
	var raw Raw
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	if _, err := Compile(raw); err == nil {
		t.Fatal("expected rejection of nested cc inside on_limit")
	}
}

func TestCompileCcAcceptsBlockOnLimit(t *testing.T) {
	doc := `
cc:
  key_parts: [client_ip]
  window_secs: 60
  max_requests: 10
  block_secs: 60
  on_limit:
    block:
      status: 429
      reason: too many requests
`
	var raw Raw
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	a, err := Compile(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if a.Kind != KindCc || a.OnLimit.Kind != KindBlock || a.OnLimit.Status != 429 {
		t.Fatalf("got %+v", a)
	}
}
