package vosk

import (
	"encoding/json"
	"testing"

	"github.com/talkie-dictation/talkie/internal/engine"
)

func TestHypothesisFromResultPlainText(t *testing.T) {
	var res voskResult
	if err := json.Unmarshal([]byte(`{"text":"turn on the lights","confidence":0.87}`), &res); err != nil {
		t.Fatal(err)
	}
	hyp := hypothesisFromResult(res, engine.Final)
	if hyp.Text != "turn on the lights" {
		t.Errorf("Text = %q", hyp.Text)
	}
	if hyp.Confidence != 0.87 {
		t.Errorf("Confidence = %v, want 0.87", hyp.Confidence)
	}
	if hyp.Kind != engine.Final {
		t.Errorf("Kind = %v, want Final", hyp.Kind)
	}
}

func TestHypothesisFromResultPrefersTopAlternative(t *testing.T) {
	raw := `{"text":"turn on the light","alternatives":[
		{"text":"turn on the lights","confidence":-120.5},
		{"text":"turn on the light","confidence":-130.2}
	]}`
	var res voskResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		t.Fatal(err)
	}
	hyp := hypothesisFromResult(res, engine.Final)
	if hyp.Text != "turn on the lights" {
		t.Errorf("Text = %q, want top alternative", hyp.Text)
	}
	if hyp.Confidence != -120.5 {
		t.Errorf("Confidence = %v, want top alternative's score", hyp.Confidence)
	}
}

func TestVoskPartialDecode(t *testing.T) {
	var p voskPartial
	if err := json.Unmarshal([]byte(`{"partial":"turn on"}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Partial != "turn on" {
		t.Errorf("Partial = %q", p.Partial)
	}
}

func TestVoskPartialEmptyDecode(t *testing.T) {
	var p voskPartial
	if err := json.Unmarshal([]byte(`{"partial":""}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Partial != "" {
		t.Errorf("Partial = %q, want empty", p.Partial)
	}
}
