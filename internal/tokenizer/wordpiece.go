// Package tokenizer implements WordPiece tokenization (C7): the fixed
// BERT-style vocabulary convention shared by the homophone corrector and
// the punctuation/capitalization restorer.
package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

const (
	ClsToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"
	UnkToken  = "[UNK]"
	PadToken  = "[PAD]"

	ClsID  = 101
	SepID  = 102
	MaskID = 103
	UnkID  = 100
	PadID  = 0
)

// Tokenizer holds a loaded vocabulary and encodes/decodes token ids against
// it. It is immutable after construction and safe for concurrent use.
type Tokenizer struct {
	tokenToID map[string]int32
	idToToken []string
	maxSeqLen int
}

// Load reads a newline-delimited vocabulary file (one token per line,
// line number == token id) and builds a Tokenizer.
func Load(path string, maxSeqLen int) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: open vocab: %w", err)
	}
	defer f.Close()

	var idToToken []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		idToToken = append(idToToken, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: read vocab: %w", err)
	}

	return New(idToToken, maxSeqLen)
}

// New builds a Tokenizer from an in-memory vocabulary, indexed by id.
func New(idToToken []string, maxSeqLen int) (*Tokenizer, error) {
	if maxSeqLen <= 2 {
		return nil, fmt.Errorf("tokenizer: max_seq_len must leave room for [CLS]/[SEP], got %d", maxSeqLen)
	}
	tokenToID := make(map[string]int32, len(idToToken))
	for i, tok := range idToToken {
		tokenToID[tok] = int32(i)
	}
	return &Tokenizer{tokenToID: tokenToID, idToToken: idToToken, maxSeqLen: maxSeqLen}, nil
}

// MaxSeqLen returns the fixed sequence length every Encode result is
// padded or truncated to.
func (t *Tokenizer) MaxSeqLen() int { return t.maxSeqLen }

// Encode tokenizes text into exactly MaxSeqLen() ids: [CLS], wordpieces,
// [SEP], then [PAD] to fill. If the wordpiece stream doesn't fit it is
// truncated before [SEP] is appended, so [SEP] is always present.
func (t *Tokenizer) Encode(text string) []int32 {
	words := strings.Fields(text)
	var pieces []int32
	for _, w := range words {
		pieces = append(pieces, t.tokenizeWord(strings.ToLower(w))...)
	}

	budget := t.maxSeqLen - 2 // room for [CLS] and [SEP]
	if len(pieces) > budget {
		pieces = pieces[:budget]
	}

	ids := make([]int32, 0, t.maxSeqLen)
	ids = append(ids, ClsID)
	ids = append(ids, pieces...)
	ids = append(ids, SepID)
	for len(ids) < t.maxSeqLen {
		ids = append(ids, PadID)
	}
	return ids
}

// AttentionMask returns 1 for every non-[PAD] position in ids and 0
// elsewhere, matching ids' length.
func AttentionMask(ids []int32) []int32 {
	mask := make([]int32, len(ids))
	for i, id := range ids {
		if id != PadID {
			mask[i] = 1
		}
	}
	return mask
}

// TokenID looks up a single whole-word or wordpiece token's id. Used by the
// homophone corrector, whose confusion groups are almost always
// single-token words, to avoid a round trip through full word splitting.
func (t *Tokenizer) TokenID(token string) (int32, bool) {
	id, ok := t.tokenToID[strings.ToLower(token)]
	return id, ok
}

// IDToToken returns the vocabulary string for id, or [UNK] if out of range.
func (t *Tokenizer) IDToToken(id int32) string {
	if id < 0 || int(id) >= len(t.idToToken) {
		return UnkToken
	}
	return t.idToToken[id]
}

// tokenizeWord applies greedy longest-match-first WordPiece segmentation:
// the longest vocabulary prefix is consumed first, continuations after the
// first piece are looked up with a "##" marker, and any unmatched word
// collapses to a single [UNK].
func (t *Tokenizer) tokenizeWord(word string) []int32 {
	if word == "" {
		return nil
	}
	runes := []rune(word)
	var out []int32
	start := 0
	for start < len(runes) {
		end := len(runes)
		matchedID := int32(-1)
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = "##" + candidate
			}
			if id, ok := t.tokenToID[candidate]; ok {
				matchedID = id
				break
			}
			end--
		}
		if matchedID == -1 {
			return []int32{UnkID}
		}
		out = append(out, matchedID)
		start = end
	}
	return out
}
