// Package homophone implements the masked-language-model homophone
// corrector (C9): the first stage of the GEC pipeline, which replaces a
// word with a same-sounding alternative when the alternative scores
// meaningfully higher under a masked-LM than the word the recognizer
// actually produced.
package homophone

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/talkie-dictation/talkie/internal/tokenizer"
)

// Session is the subset of nnruntime.Session the corrector needs, accepted
// as an interface so tests can supply a fake MLM without loading a real
// ONNX graph.
type Session interface {
	Run(inputData [][]int64) ([][]float32, error)
}

// Group is a confusion set of words that sound alike; the corrector only
// considers replacements within the group a word belongs to.
type Group []string

// Correction records one replacement the corrector made.
type Correction struct {
	WordIndex   int
	Original    string
	Replacement string
	Margin      float64
}

// Corrector scores each group member at a masked position and swaps in a
// higher-scoring alternative when the log-probability margin clears
// MarginThreshold.
type Corrector struct {
	sess            Session
	tok             *tokenizer.Tokenizer
	vocabSize       int
	groups          map[string]Group
	marginThreshold float64
}

// New builds a Corrector. vocabSize must match the MLM head's output
// dimension; groups maps every member word (lowercase) to its full group.
func New(sess Session, tok *tokenizer.Tokenizer, vocabSize int, groups []Group, marginThreshold float64) *Corrector {
	index := make(map[string]Group)
	for _, g := range groups {
		for _, w := range g {
			index[strings.ToLower(w)] = g
		}
	}
	return &Corrector{sess: sess, tok: tok, vocabSize: vocabSize, groups: index, marginThreshold: marginThreshold}
}

// Correct scans text word by word; for every word belonging to a known
// confusion group, it masks that position and asks the MLM to score every
// group member, replacing the word when a candidate wins by more than
// MarginThreshold nats of log-probability.
func (c *Corrector) Correct(ctx context.Context, text string) (string, []Correction, error) {
	words := strings.Fields(text)
	var corrections []Correction

	for i, word := range words {
		key := strings.ToLower(word)
		group, ok := c.groups[key]
		if !ok || len(group) < 2 {
			continue
		}

		replacement, margin, err := c.scoreGroup(words, i, group)
		if err != nil {
			return "", nil, fmt.Errorf("homophone: score %q at %d: %w", word, i, err)
		}
		if replacement == "" || strings.EqualFold(replacement, word) {
			continue
		}
		if margin <= c.marginThreshold {
			continue
		}

		corrections = append(corrections, Correction{
			WordIndex:   i,
			Original:    word,
			Replacement: replacement,
			Margin:      margin,
		})
		words[i] = replacement
	}

	return strings.Join(words, " "), corrections, nil
}

// scoreGroup masks words[pos], runs the MLM once, and returns the
// highest-scoring group member together with its margin over the original
// word's own score. Words outside the tokenizer's single-token vocabulary
// fall back to [UNK], which never wins against a genuine group member.
func (c *Corrector) scoreGroup(words []string, pos int, group Group) (string, float64, error) {
	maxLen := c.tok.MaxSeqLen()
	ids := make([]int32, 0, maxLen)
	ids = append(ids, tokenizer.ClsID)
	maskPos := -1

	for i, w := range words {
		if len(ids) >= maxLen-1 {
			break
		}
		if i == pos {
			maskPos = len(ids)
			ids = append(ids, tokenizer.MaskID)
			continue
		}
		if id, ok := c.tok.TokenID(w); ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, tokenizer.UnkID)
		}
	}
	if maskPos == -1 {
		// pos fell past the truncation budget; nothing to score.
		return "", 0, nil
	}
	ids = append(ids, tokenizer.SepID)
	for len(ids) < maxLen {
		ids = append(ids, tokenizer.PadID)
	}

	mask := tokenizer.AttentionMask(ids)

	outputs, err := c.sess.Run([][]int64{toInt64(ids), toInt64(mask)})
	if err != nil {
		return "", 0, fmt.Errorf("run MLM: %w", err)
	}
	if len(outputs) == 0 {
		return "", 0, fmt.Errorf("MLM returned no outputs")
	}
	logits := outputs[0]
	if len(logits) < (maskPos+1)*c.vocabSize {
		return "", 0, fmt.Errorf("MLM output too short for position %d", maskPos)
	}
	positionLogits := logits[maskPos*c.vocabSize : (maskPos+1)*c.vocabSize]
	logProbs := logSoftmax(positionLogits)

	originalLP := math.Inf(-1)
	bestWord := ""
	bestLP := math.Inf(-1)
	for _, w := range group {
		id, ok := c.tok.TokenID(w)
		if !ok {
			continue
		}
		lp := float64(logProbs[id])
		if strings.EqualFold(w, words[pos]) {
			originalLP = lp
		}
		if lp > bestLP {
			bestLP = lp
			bestWord = w
		}
	}

	if bestWord == "" || math.IsInf(originalLP, -1) {
		return "", 0, nil
	}
	return bestWord, bestLP - originalLP, nil
}

func toInt64(ids []int32) []int64 {
	out := make([]int64, len(ids))
	for i, v := range ids {
		out[i] = int64(v)
	}
	return out
}

func logSoftmax(logits []float32) []float64 {
	maxV := float32(math.Inf(-1))
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}
	var sumExp float64
	for _, v := range logits {
		sumExp += math.Exp(float64(v - maxV))
	}
	logSum := math.Log(sumExp)
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = float64(v-maxV) - logSum
	}
	return out
}
