// Package grammar implements the seq2seq grammar corrector (C11): the
// last and most aggressive GEC stage, disabled by default because a
// hallucinating rewrite is worse than leaving the original text alone.
package grammar

import (
	"context"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/talkie-dictation/talkie/internal/tokenizer"
)

// EncoderSession runs the encoder graph once per input: source token ids
// and attention mask in, per-position hidden states out.
type EncoderSession interface {
	Run(inputData [][]int64) ([][]float32, error)
}

// DecoderSession runs one incremental decode step: the token ids
// generated so far (int64) plus the encoder's fixed hidden states
// (float32) in, next-token logits out.
type DecoderSession interface {
	Run(inputs []any) ([][]float32, error)
}

// Config tunes generation length and the hallucination guard.
type Config struct {
	MaxSourceLen int
	MaxTargetLen int
	HiddenDim    int
	VocabSize    int

	// MaxEditRatio bounds Levenshtein(source, rewrite) / len(source); a
	// rewrite that edits more of the sentence than this is suspected of
	// hallucinating content rather than correcting grammar, and is
	// discarded in favor of the input text.
	MaxEditRatio float64
}

// Corrector rewrites a sentence for grammaticality, or returns it
// unchanged if generation looks unreliable.
type Corrector struct {
	encoder EncoderSession
	decoder DecoderSession
	tok     *tokenizer.Tokenizer
	cfg     Config
}

func New(encoder EncoderSession, decoder DecoderSession, tok *tokenizer.Tokenizer, cfg Config) *Corrector {
	if cfg.MaxEditRatio == 0 {
		cfg.MaxEditRatio = 0.5
	}
	return &Corrector{encoder: encoder, decoder: decoder, tok: tok, cfg: cfg}
}

// Result carries the rewrite plus whether the hallucination guard
// rejected it.
type Result struct {
	Text       string
	Rewritten  bool
	EditRatio  float64
}

// Correct encodes text once, then decodes greedily token by token up to
// MaxTargetLen or until [SEP] is produced. If the resulting rewrite's edit
// distance from the input exceeds MaxEditRatio, the input is returned
// unchanged with Rewritten=false.
func (c *Corrector) Correct(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Text: text}, nil
	}

	sourceIDs := c.tok.Encode(text)
	sourceMask := tokenizer.AttentionMask(sourceIDs)

	encOut, err := c.encoder.Run([][]int64{toInt64(sourceIDs), toInt64(sourceMask)})
	if err != nil {
		return Result{}, fmt.Errorf("grammar: encode: %w", err)
	}
	if len(encOut) == 0 {
		return Result{}, fmt.Errorf("grammar: encoder returned no outputs")
	}
	hidden := encOut[0]

	// The decoder session's input tensor has a fixed shape ([1, MaxTargetLen]),
	// so every Run call must supply exactly MaxTargetLen ids; the ids past
	// the generated-so-far prefix are padding, and the prediction for the
	// next token comes from the last real position, not the buffer's end.
	decoderIDs := make([]int64, c.cfg.MaxTargetLen)
	for i := range decoderIDs {
		decoderIDs[i] = tokenizer.PadID
	}
	decoderIDs[0] = tokenizer.ClsID
	curLen := 1

	for step := 0; step < c.cfg.MaxTargetLen-1; step++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		decOut, err := c.decoder.Run([]any{decoderIDs, hidden})
		if err != nil {
			return Result{}, fmt.Errorf("grammar: decode step %d: %w", step, err)
		}
		if len(decOut) == 0 {
			return Result{}, fmt.Errorf("grammar: decoder returned no outputs")
		}

		logits := decOut[0]
		if len(logits) < c.cfg.MaxTargetLen*c.cfg.VocabSize {
			return Result{}, fmt.Errorf("grammar: decoder logits shorter than MaxTargetLen*VocabSize")
		}
		pos := curLen - 1
		posLogits := logits[pos*c.cfg.VocabSize : (pos+1)*c.cfg.VocabSize]
		nextID := int64(argmax(posLogits))

		if nextID == tokenizer.SepID {
			break
		}
		decoderIDs[curLen] = nextID
		curLen++
	}

	rewrite := c.decodeWords(decoderIDs[1:curLen]) // drop the leading [CLS]

	ratio := editRatio(text, rewrite)
	if ratio > c.cfg.MaxEditRatio {
		return Result{Text: text, Rewritten: false, EditRatio: ratio}, nil
	}
	return Result{Text: rewrite, Rewritten: true, EditRatio: ratio}, nil
}

// decodeWords renders generated subword ids back to whitespace-joined
// text, merging "##"-prefixed continuations onto the preceding word.
func (c *Corrector) decodeWords(ids []int64) string {
	var out strings.Builder
	for _, id := range ids {
		tok := c.tok.IDToToken(int32(id))
		if strings.HasPrefix(tok, "##") {
			out.WriteString(strings.TrimPrefix(tok, "##"))
			continue
		}
		if out.Len() > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(tok)
	}
	return out.String()
}

func editRatio(a, b string) float64 {
	if len(a) == 0 {
		if len(b) == 0 {
			return 0
		}
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(dist) / float64(len([]rune(a)))
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
