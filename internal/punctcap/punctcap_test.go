package punctcap

import (
	"context"
	"fmt"
	"testing"

	"github.com/talkie-dictation/talkie/internal/tokenizer"
)

func buildVocab() []string {
	vocab := make([]string, 104)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("[unused%d]", i)
	}
	vocab[tokenizer.PadID] = tokenizer.PadToken
	vocab[tokenizer.UnkID] = tokenizer.UnkToken
	vocab[tokenizer.ClsID] = tokenizer.ClsToken
	vocab[tokenizer.SepID] = tokenizer.SepToken
	vocab[tokenizer.MaskID] = tokenizer.MaskToken
	return vocab
}

// fakeSession returns fixed per-position one-hot-ish logits set up by the
// test via set(pos, class).
type fakeSession struct {
	maxLen int
	logits []float32
}

func newFakeSession(maxLen int) *fakeSession {
	return &fakeSession{maxLen: maxLen, logits: make([]float32, maxLen*NumClasses)}
}

func (f *fakeSession) set(pos, class int) {
	f.setValue(pos, class, 10)
}

func (f *fakeSession) setValue(pos, class int, v float32) {
	f.logits[pos*NumClasses+class] = v
}

func (f *fakeSession) Run(inputData [][]int64) ([][]float32, error) {
	return [][]float32{f.logits}, nil
}

func TestRestoreAppliesCaseAndPunctuation(t *testing.T) {
	vocab := buildVocab()
	tok, err := tokenizer.New(vocab, 12)
	if err != nil {
		t.Fatal(err)
	}

	sess := newFakeSession(12)
	sess.set(1, ClassOf(CaseCapitalizeFirst, PunctNone))  // hello
	sess.set(2, ClassOf(CaseLower, PunctPeriod))           // world.
	sess.set(3, ClassOf(CaseCapitalizeFirst, PunctNone))   // how (sentence restart)
	sess.set(4, ClassOf(CaseLower, PunctNone))             // are
	sess.set(5, ClassOf(CaseCapitalizeFirst, PunctQuestion)) // you?, but mid-sentence with a weak margin
	sess.setValue(5, ClassOf(CaseLower, PunctQuestion), 7) // within the 4.0 margin of the CapitalizeFirst logit

	r := New(sess, tok)
	got, err := r.Restore(context.Background(), "hello world how are you")
	if err != nil {
		t.Fatal(err)
	}
	want := "Hello world. How are you?"
	if got != want {
		t.Errorf("Restore() = %q, want %q", got, want)
	}
}

func TestRestoreMidSentenceCapitalizesWhenMarginConfident(t *testing.T) {
	vocab := buildVocab()
	tok, err := tokenizer.New(vocab, 12)
	if err != nil {
		t.Fatal(err)
	}

	sess := newFakeSession(12)
	sess.set(1, ClassOf(CaseLower, PunctNone))          // nasa (stays lowercase)
	sess.set(2, ClassOf(CaseCapitalizeFirst, PunctNone)) // launched (mid-sentence, no competing lowercase logit)

	r := New(sess, tok)
	got, err := r.Restore(context.Background(), "nasa launched")
	if err != nil {
		t.Fatal(err)
	}
	want := "nasa Launched"
	if got != want {
		t.Errorf("Restore() = %q, want %q", got, want)
	}
}

func TestRestoreEmptyInput(t *testing.T) {
	vocab := buildVocab()
	tok, err := tokenizer.New(vocab, 12)
	if err != nil {
		t.Fatal(err)
	}
	sess := newFakeSession(12)
	r := New(sess, tok)
	got, err := r.Restore(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("Restore(\"\") = %q, want empty", got)
	}
}

func TestClassOfDecodeClassRoundTrip(t *testing.T) {
	for c := CaseLower; c <= CaseAsIs; c++ {
		for p := PunctNone; p <= PunctColon; p++ {
			cls := ClassOf(c, p)
			gotC, gotP := DecodeClass(cls)
			if gotC != c || gotP != p {
				t.Errorf("DecodeClass(ClassOf(%v,%v)) = (%v,%v)", c, p, gotC, gotP)
			}
		}
	}
}

func TestApplyCaseAllCaps(t *testing.T) {
	if got := applyCase("hello", CaseAllCaps); got != "HELLO" {
		t.Errorf("applyCase AllCaps = %q", got)
	}
	if got := applyCase("hello", CaseAsIs); got != "hello" {
		t.Errorf("applyCase AsIs = %q", got)
	}
}
