package homophone

import (
	"context"
	"fmt"
	"testing"

	"github.com/talkie-dictation/talkie/internal/tokenizer"
)

func buildVocab(extra ...string) []string {
	vocab := make([]string, 104)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("[unused%d]", i)
	}
	vocab[tokenizer.PadID] = tokenizer.PadToken
	vocab[tokenizer.UnkID] = tokenizer.UnkToken
	vocab[tokenizer.ClsID] = tokenizer.ClsToken
	vocab[tokenizer.SepID] = tokenizer.SepToken
	vocab[tokenizer.MaskID] = tokenizer.MaskToken
	return append(vocab, extra...)
}

// fakeSession returns a fixed logit for one winning token id at the masked
// position and a low logit everywhere else, regardless of input.
type fakeSession struct {
	maxLen    int
	vocabSize int
	maskPos   int
	winnerID  int32
	winnerLP  float32
	others    float32
}

func (f *fakeSession) Run(inputData [][]int64) ([][]float32, error) {
	logits := make([]float32, f.maxLen*f.vocabSize)
	for i := range logits {
		logits[i] = f.others
	}
	base := f.maskPos * f.vocabSize
	logits[base+int(f.winnerID)] = f.winnerLP
	return [][]float32{logits}, nil
}

func TestCorrectReplacesLowerScoringHomophone(t *testing.T) {
	vocab := buildVocab("i", "went", "to", "see", "their", "there", "car")
	tok, err := tokenizer.New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}

	thereID, _ := tok.TokenID("there")
	sess := &fakeSession{maxLen: 16, vocabSize: len(vocab), maskPos: 5, winnerID: thereID, winnerLP: 10, others: -10}

	groups := []Group{{"their", "there"}}
	c := New(sess, tok, len(vocab), groups, 1.0)

	corrected, corrections, err := c.Correct(context.Background(), "i went to see their car")
	if err != nil {
		t.Fatal(err)
	}
	if len(corrections) != 1 {
		t.Fatalf("corrections = %v, want 1 entry", corrections)
	}
	if corrections[0].Replacement != "there" {
		t.Errorf("Replacement = %q, want \"there\"", corrections[0].Replacement)
	}
	if corrected != "i went to see there car" {
		t.Errorf("corrected = %q", corrected)
	}
}

func TestCorrectLeavesWordWhenMarginTooSmall(t *testing.T) {
	vocab := buildVocab("i", "went", "to", "see", "their", "there", "car")
	tok, err := tokenizer.New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}

	thereID, _ := tok.TokenID("there")
	// Winner barely edges out the original: margin well under threshold.
	sess := &fakeSession{maxLen: 16, vocabSize: len(vocab), maskPos: 5, winnerID: thereID, winnerLP: -9.9, others: -10}

	groups := []Group{{"their", "there"}}
	c := New(sess, tok, len(vocab), groups, 5.0)

	corrected, corrections, err := c.Correct(context.Background(), "i went to see their car")
	if err != nil {
		t.Fatal(err)
	}
	if len(corrections) != 0 {
		t.Errorf("corrections = %v, want none under margin threshold", corrections)
	}
	if corrected != "i went to see their car" {
		t.Errorf("corrected = %q, want unchanged", corrected)
	}
}

func TestCorrectSkipsWordsOutsideAnyGroup(t *testing.T) {
	vocab := buildVocab("i", "went", "home")
	tok, err := tokenizer.New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}
	sess := &fakeSession{maxLen: 16, vocabSize: len(vocab)}
	c := New(sess, tok, len(vocab), nil, 1.0)

	corrected, corrections, err := c.Correct(context.Background(), "i went home")
	if err != nil {
		t.Fatal(err)
	}
	if len(corrections) != 0 || corrected != "i went home" {
		t.Errorf("corrected = %q, corrections = %v, want passthrough", corrected, corrections)
	}
}
