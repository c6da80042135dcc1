// Package punctcap implements the punctuation/capitalization restorer
// (C10): a 24-class token classifier (4 case states x 6 punctuation marks)
// that turns the recognizer's flat lowercase stream back into sentences.
package punctcap

import (
	"context"
	"fmt"
	"strings"

	"github.com/talkie-dictation/talkie/internal/tokenizer"
)

// Case is the predicted capitalization treatment for a word.
type Case int

const (
	CaseLower Case = iota
	CaseCapitalizeFirst
	CaseAllCaps
	CaseAsIs
)

// Punct is the predicted punctuation mark appended after a word.
type Punct int

const (
	PunctNone Punct = iota
	PunctComma
	PunctPeriod
	PunctQuestion
	PunctExclaim
	PunctColon
)

const NumPunctMarks = 6
const NumClasses = 4 * NumPunctMarks // 24: every (Case, Punct) pair

// midSentenceCaseMargin is the logit margin the best overall class must beat
// the best lowercase class by, mid-sentence, before it overrides the
// lowercase bias.
const midSentenceCaseMargin = 4.0

func punctMark(p Punct) string {
	switch p {
	case PunctComma:
		return ","
	case PunctPeriod:
		return "."
	case PunctQuestion:
		return "?"
	case PunctExclaim:
		return "!"
	case PunctColon:
		return ":"
	default:
		return ""
	}
}

func sentenceEnding(p Punct) bool {
	return p == PunctPeriod || p == PunctQuestion || p == PunctExclaim
}

// ClassOf packs (case, punct) into the classifier head's flat label space.
func ClassOf(c Case, p Punct) int { return int(c)*NumPunctMarks + int(p) }

// DecodeClass is ClassOf's inverse.
func DecodeClass(cls int) (Case, Punct) {
	return Case(cls / NumPunctMarks), Punct(cls % NumPunctMarks)
}

// Session is the subset of nnruntime.Session the restorer needs.
type Session interface {
	Run(inputData [][]int64) ([][]float32, error)
}

// Restorer classifies every subword token in a sentence and reconstructs
// cased, punctuated text from it.
type Restorer struct {
	sess Session
	tok  *tokenizer.Tokenizer
}

func New(sess Session, tok *tokenizer.Tokenizer) *Restorer {
	return &Restorer{sess: sess, tok: tok}
}

type subtoken struct {
	id      int32
	wordIdx int
}

// Restore classifies text (assumed lowercase, unpunctuated, as produced by
// the recognizer) and returns it with case and punctuation restored.
func (r *Restorer) Restore(ctx context.Context, text string) (string, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", nil
	}

	maxLen := r.tok.MaxSeqLen()
	ids := make([]int32, 0, maxLen)
	ids = append(ids, tokenizer.ClsID)
	var subtoks []subtoken

	for wi, w := range words {
		pieceIDs := r.wordPieceIDs(w)
		for _, id := range pieceIDs {
			if len(ids) >= maxLen-1 {
				break
			}
			ids = append(ids, id)
			subtoks = append(subtoks, subtoken{id: id, wordIdx: wi})
		}
	}
	ids = append(ids, tokenizer.SepID)
	for len(ids) < maxLen {
		ids = append(ids, tokenizer.PadID)
	}
	mask := tokenizer.AttentionMask(ids)

	outputs, err := r.sess.Run([][]int64{toInt64(ids), toInt64(mask)})
	if err != nil {
		return "", fmt.Errorf("punctcap: run classifier: %w", err)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("punctcap: classifier returned no outputs")
	}
	logits := outputs[0]
	if len(logits) < len(ids)*NumClasses {
		return "", fmt.Errorf("punctcap: classifier output too short")
	}

	// firstPos/lastPos index into subtoks (i.e. offset by 1 for [CLS]) for
	// each word's first and last wordpiece: case comes from the first
	// piece's prediction, punctuation from the last — so a contraction
	// split into "do" + "##n't" gets its comma or period attached once,
	// after the whole word, not mid-token.
	firstPos := make([]int, len(words))
	lastPos := make([]int, len(words))
	for i := range firstPos {
		firstPos[i] = -1
	}
	for i, st := range subtoks {
		pos := i + 1 // account for leading [CLS]
		if firstPos[st.wordIdx] == -1 {
			firstPos[st.wordIdx] = pos
		}
		lastPos[st.wordIdx] = pos
	}

	var out strings.Builder
	sentenceStart := true
	for wi, w := range words {
		if firstPos[wi] == -1 {
			// Truncated past the sequence budget; emit verbatim.
			if out.Len() > 0 {
				out.WriteByte(' ')
			}
			out.WriteString(w)
			continue
		}

		firstLogits := logits[firstPos[wi]*NumClasses : (firstPos[wi]+1)*NumClasses]
		caseCls, _ := DecodeClass(argmax(firstLogits))
		_, punctCls := DecodeClass(argmax(logits[lastPos[wi]*NumClasses : (lastPos[wi]+1)*NumClasses]))

		if !sentenceStart {
			// Mid-sentence lowercase bias: default to the best-scoring
			// lowercase class unless the best overall class beats it by a
			// wide enough margin to earn a capital anyway.
			bestOverallLogit := firstLogits[argmax(firstLogits)]
			lowerStart := ClassOf(CaseLower, 0)
			lowerClasses := firstLogits[lowerStart : lowerStart+NumPunctMarks]
			bestLowerLogit := lowerClasses[argmax(lowerClasses)]
			if bestOverallLogit-bestLowerLogit < midSentenceCaseMargin {
				caseCls = CaseLower
			}
		}

		word := applyCase(w, caseCls)
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(word)
		out.WriteString(punctMark(punctCls))

		sentenceStart = sentenceEnding(punctCls)
	}

	return out.String(), nil
}

func applyCase(word string, c Case) string {
	switch c {
	case CaseCapitalizeFirst:
		if word == "" {
			return word
		}
		r := []rune(word)
		return strings.ToUpper(string(r[0])) + string(r[1:])
	case CaseAllCaps:
		return strings.ToUpper(word)
	case CaseAsIs:
		return word
	default:
		return strings.ToLower(word)
	}
}

// wordPieceIDs re-derives subword ids for w the same way Tokenizer.Encode
// would, without going through its fixed-length padding.
func (r *Restorer) wordPieceIDs(w string) []int32 {
	full := r.tok.Encode(w)
	var out []int32
	for _, id := range full {
		if id == tokenizer.ClsID || id == tokenizer.SepID || id == tokenizer.PadID {
			continue
		}
		out = append(out, id)
	}
	return out
}

func toInt64(ids []int32) []int64 {
	out := make([]int64, len(ids))
	for i, v := range ids {
		out[i] = int64(v)
	}
	return out
}

func argmax(scores []float32) int {
	best := 0
	for i, v := range scores {
		if v > scores[best] {
			best = i
		}
	}
	return best
}
