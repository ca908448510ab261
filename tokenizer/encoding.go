package tokenizer

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/djeday123/reviewtune/tensor"
)

// Padding selects how a batch is padded.
type Padding int

const (
	// PadMaxLength pads every row to EncodeOptions.MaxLength.
	PadMaxLength Padding = iota
	// PadLongest pads to the longest row in the batch.
	PadLongest
	// PadNone leaves rows at their natural length.
	PadNone
)

func (p Padding) String() string {
	switch p {
	case PadMaxLength:
		return "max_length"
	case PadLongest:
		return "longest"
	case PadNone:
		return "none"
	default:
		return fmt.Sprintf("padding(%d)", int(p))
	}
}

// ParsePadding accepts "max_length", "longest" or "none".
func ParsePadding(s string) (Padding, error) {
	switch s {
	case "max_length":
		return PadMaxLength, nil
	case "longest":
		return PadLongest, nil
	case "none", "":
		return PadNone, nil
	}
	return 0, fmt.Errorf("unknown padding %q", s)
}

// EncodeOptions controls EncodeBatch.
type EncodeOptions struct {
	MaxLength  int // includes [CLS] and [SEP]
	Padding    Padding
	Truncation bool
}

// TrainingOptions is the fixed-length encoding used for fine-tuning.
func TrainingOptions() EncodeOptions {
	return EncodeOptions{MaxLength: 128, Padding: PadMaxLength, Truncation: true}
}

// Encoding is one encoded sequence.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
}

// Len returns the sequence length including padding.
func (e Encoding) Len() int { return len(e.InputIDs) }

// ErrInvalidUTF8 is wrapped by TokenizationError for malformed input.
var ErrInvalidUTF8 = errors.New("invalid UTF-8")

// TokenizationError reports the batch index of a text that could not be encoded.
type TokenizationError struct {
	Index int
	Err   error
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("tokenize text %d: %v", e.Index, e.Err)
}

func (e *TokenizationError) Unwrap() error { return e.Err }

// EncodeBatch encodes texts as [CLS] tokens [SEP], truncated to MaxLength
// when Truncation is set, then right-padded with [PAD] and mask 0.
func (t *WordPiece) EncodeBatch(texts []string, opts EncodeOptions) ([]Encoding, error) {
	if opts.Truncation && opts.MaxLength < 2 {
		return nil, fmt.Errorf("max length %d leaves no room for [CLS] and [SEP]", opts.MaxLength)
	}
	if opts.Padding == PadMaxLength && opts.MaxLength <= 0 {
		return nil, fmt.Errorf("max_length padding needs a positive max length")
	}

	out := make([]Encoding, len(texts))
	longest := 0
	for i, text := range texts {
		if !utf8.ValidString(text) {
			return nil, &TokenizationError{Index: i, Err: ErrInvalidUTF8}
		}
		ids := t.Encode(text)
		if opts.Truncation && len(ids) > opts.MaxLength-2 {
			ids = ids[:opts.MaxLength-2]
		}
		seq := make([]int64, 0, len(ids)+2)
		seq = append(seq, t.clsID)
		seq = append(seq, ids...)
		seq = append(seq, t.sepID)

		mask := make([]int64, len(seq))
		for j := range mask {
			mask[j] = 1
		}
		out[i] = Encoding{InputIDs: seq, AttentionMask: mask}
		longest = max(longest, len(seq))
	}

	target := 0
	switch opts.Padding {
	case PadMaxLength:
		target = opts.MaxLength
	case PadLongest:
		target = longest
	}
	for i := range out {
		out[i] = t.pad(out[i], target)
	}
	return out, nil
}

// EncodeText encodes a single text with the given options.
func (t *WordPiece) EncodeText(text string, opts EncodeOptions) (Encoding, error) {
	encs, err := t.EncodeBatch([]string{text}, opts)
	if err != nil {
		return Encoding{}, err
	}
	return encs[0], nil
}

func (t *WordPiece) pad(e Encoding, target int) Encoding {
	for len(e.InputIDs) < target {
		e.InputIDs = append(e.InputIDs, t.padID)
		e.AttentionMask = append(e.AttentionMask, 0)
	}
	return e
}

// BatchTensors stacks equal-length encodings into [batch, seqLen] int64
// tensors of input ids and attention mask.
func BatchTensors(encs []Encoding) (ids, mask *tensor.Tensor, err error) {
	if len(encs) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	seqLen := encs[0].Len()
	idData := make([]int64, 0, len(encs)*seqLen)
	maskData := make([]int64, 0, len(encs)*seqLen)
	for i, e := range encs {
		if e.Len() != seqLen || len(e.AttentionMask) != seqLen {
			return nil, nil, fmt.Errorf("encoding %d has length %d, batch uses %d", i, e.Len(), seqLen)
		}
		idData = append(idData, e.InputIDs...)
		maskData = append(maskData, e.AttentionMask...)
	}
	shape := tensor.Shape{len(encs), seqLen}
	if ids, err = tensor.FromSlice(idData, shape); err != nil {
		return nil, nil, err
	}
	if mask, err = tensor.FromSlice(maskData, shape); err != nil {
		return nil, nil, err
	}
	return ids, mask, nil
}
