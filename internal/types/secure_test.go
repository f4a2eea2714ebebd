package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSecretStringRedactsInFmt(t *testing.T) {
	s := SecretString("whsec_supersecret")
	if got := fmt.Sprintf("%s", s); got != "***REDACTED***" {
		t.Errorf("fmt output = %q, want redacted", got)
	}
	if got := fmt.Sprintf("%v", s); got != "***REDACTED***" {
		t.Errorf("fmt %%v output = %q, want redacted", got)
	}
}

func TestSecretStringRedactsInJSON(t *testing.T) {
	payload := struct {
		Secret SecretString `json:"secret"`
	}{Secret: "whsec_supersecret"}

	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(b) != `{"secret":"***REDACTED***"}` {
		t.Errorf("JSON = %s, want redacted", b)
	}
}

func TestSecretStringUnmask(t *testing.T) {
	s := SecretString("whsec_supersecret")
	if s.Unmask() != "whsec_supersecret" {
		t.Error("Unmask should return the raw value")
	}
}
