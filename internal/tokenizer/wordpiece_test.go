package tokenizer

import (
	"fmt"
	"testing"
)

func testVocab() []string {
	// index == id; includes CLS/SEP/MASK/UNK/PAD at the fixed slots plus a
	// handful of whole words and one split word ("running" -> "run" "##ning").
	vocab := make([]string, 104)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("[unused%d]", i)
	}
	vocab[PadID] = PadToken
	vocab[UnkID] = UnkToken
	vocab[ClsID] = ClsToken
	vocab[SepID] = SepToken
	vocab[MaskID] = MaskToken
	vocab = append(vocab, "hello", "world", "run", "##ning", "the", "cat")
	return vocab
}

func TestEncodeFixedLength(t *testing.T) {
	tok, err := New(testVocab(), 16)
	if err != nil {
		t.Fatal(err)
	}
	ids := tok.Encode("hello world")
	if len(ids) != 16 {
		t.Fatalf("len(Encode) = %d, want 16", len(ids))
	}
	if ids[0] != ClsID {
		t.Errorf("ids[0] = %d, want [CLS] (%d)", ids[0], ClsID)
	}
}

func TestEncodeSepAtLastNonPad(t *testing.T) {
	tok, err := New(testVocab(), 16)
	if err != nil {
		t.Fatal(err)
	}
	ids := tok.Encode("hello world")
	sepIdx := -1
	for i, id := range ids {
		if id == SepID {
			sepIdx = i
			break
		}
	}
	if sepIdx == -1 {
		t.Fatal("no [SEP] found")
	}
	for i := sepIdx + 1; i < len(ids); i++ {
		if ids[i] != PadID {
			t.Errorf("ids[%d] = %d after [SEP], want [PAD]", i, ids[i])
		}
	}
}

func TestEncodeSplitsUnknownWordIntoWordpieces(t *testing.T) {
	tok, err := New(testVocab(), 16)
	if err != nil {
		t.Fatal(err)
	}
	ids := tok.Encode("running")
	runID, _ := tok.tokenToID["run"]
	contID, _ := tok.tokenToID["##ning"]
	if ids[1] != runID || ids[2] != contID {
		t.Errorf("ids = %v, want [%d %d] for 'run'+'##ning'", ids[1:3], runID, contID)
	}
}

func TestEncodeOutOfVocabWordBecomesUnk(t *testing.T) {
	tok, err := New(testVocab(), 16)
	if err != nil {
		t.Fatal(err)
	}
	ids := tok.Encode("xyzzyqqq")
	if ids[1] != UnkID {
		t.Errorf("ids[1] = %d, want [UNK] (%d)", ids[1], UnkID)
	}
}

func TestEncodeTruncatesLongInput(t *testing.T) {
	tok, err := New(testVocab(), 8)
	if err != nil {
		t.Fatal(err)
	}
	ids := tok.Encode("hello world hello world hello world hello world")
	if len(ids) != 8 {
		t.Fatalf("len = %d, want 8", len(ids))
	}
	if ids[len(ids)-1] != SepID && ids[len(ids)-1] != PadID {
		t.Errorf("last id = %d, want [SEP] or [PAD]", ids[len(ids)-1])
	}
	hasSep := false
	for _, id := range ids {
		if id == SepID {
			hasSep = true
		}
	}
	if !hasSep {
		t.Error("truncated sequence must still contain [SEP]")
	}
}

func TestAttentionMaskMatchesPadding(t *testing.T) {
	tok, err := New(testVocab(), 10)
	if err != nil {
		t.Fatal(err)
	}
	ids := tok.Encode("hello")
	mask := AttentionMask(ids)
	for i, id := range ids {
		want := int32(1)
		if id == PadID {
			want = 0
		}
		if mask[i] != want {
			t.Errorf("mask[%d] = %d, want %d", i, mask[i], want)
		}
	}
}

func TestIDToTokenRoundTrip(t *testing.T) {
	vocab := testVocab()
	tok, err := New(vocab, 16)
	if err != nil {
		t.Fatal(err)
	}
	for id, want := range vocab {
		if got := tok.IDToToken(int32(id)); got != want {
			t.Errorf("IDToToken(%d) = %q, want %q", id, got, want)
		}
	}
	if got := tok.IDToToken(int32(len(vocab) + 100)); got != UnkToken {
		t.Errorf("IDToToken(out of range) = %q, want %q", got, UnkToken)
	}
}
