package grammar

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

type fakeEncoder struct{ hiddenLen int }

func (f *fakeEncoder) Run(inputData [][]int64) ([][]float32, error) {
	return [][]float32{make([]float32, f.hiddenLen)}, nil
}

// fakeDecoder emits a fixed word sequence then [SEP], one token per step,
// regardless of the encoder hidden state it's handed. It enforces the real
// MixedSession contract: every Run call gets a fixed-length, PAD-padded
// ids buffer (maxLen), not a buffer that grows with each step.
type fakeDecoder struct {
	vocabSize int
	maxLen    int
	sequence  []int64 // tokens to emit in order, SEP terminates
}

func (f *fakeDecoder) Run(inputs []any) ([][]float32, error) {
	ids := inputs[0].([]int64)
	if len(ids) != f.maxLen {
		return nil, fmt.Errorf("fakeDecoder: got %d ids, want fixed length %d", len(ids), f.maxLen)
	}
	curLen := 0
	for _, id := range ids {
		if id == tokenizer.PadID && curLen > 0 {
			break
		}
		curLen++
	}
	step := curLen - 1 // ids[0] is the leading [CLS]
	var next int64 = tokenizer.SepID
	if step < len(f.sequence) {
		next = f.sequence[step]
	}
	logits := make([]float32, len(ids)*f.vocabSize)
	base := (curLen - 1) * f.vocabSize
	logits[base+int(next)] = 10
	return [][]float32{logits}, nil
}

func TestCorrectGeneratesRewriteWithinEditBudget(t *testing.T) {
	vocab := buildVocab("hello", "world")
	tok, err := tokenizer.New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}
	helloID, _ := tok.TokenID("hello")
	worldID, _ := tok.TokenID("world")

	enc := &fakeEncoder{hiddenLen: 8}
	dec := &fakeDecoder{vocabSize: len(vocab), maxLen: 8, sequence: []int64{int64(helloID), int64(worldID)}}

	c := New(enc, dec, tok, Config{MaxSourceLen: 16, MaxTargetLen: 8, HiddenDim: 8, VocabSize: len(vocab), MaxEditRatio: 1.0})

	res, err := c.Correct(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rewritten {
		t.Fatalf("expected rewrite accepted, got Rewritten=false (ratio %v)", res.EditRatio)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want %q", res.Text, "hello world")
	}
}

func TestCorrectRejectsHallucinatedRewrite(t *testing.T) {
	vocab := buildVocab("hello", "world", "xyzzy", "plugh", "quux")
	tok, err := tokenizer.New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}
	xyzzyID, _ := tok.TokenID("xyzzy")
	plughID, _ := tok.TokenID("plugh")
	quuxID, _ := tok.TokenID("quux")

	enc := &fakeEncoder{hiddenLen: 8}
	dec := &fakeDecoder{vocabSize: len(vocab), maxLen: 8, sequence: []int64{int64(xyzzyID), int64(plughID), int64(quuxID)}}

	c := New(enc, dec, tok, Config{MaxSourceLen: 16, MaxTargetLen: 8, HiddenDim: 8, VocabSize: len(vocab), MaxEditRatio: 0.3})

	res, err := c.Correct(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if res.Rewritten {
		t.Fatalf("expected hallucination guard to reject the rewrite, got Rewritten=true: %q", res.Text)
	}
	if res.Text != "hello world" {
		t.Errorf("Text = %q, want original input preserved", res.Text)
	}
}

func TestCorrectEmptyInputPassthrough(t *testing.T) {
	vocab := buildVocab()
	tok, err := tokenizer.New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}
	enc := &fakeEncoder{hiddenLen: 8}
	dec := &fakeDecoder{vocabSize: len(vocab), maxLen: 4}
	c := New(enc, dec, tok, Config{MaxTargetLen: 4, VocabSize: len(vocab)})

	res, err := c.Correct(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Rewritten {
		t.Error("empty input should never be marked rewritten")
	}
}
