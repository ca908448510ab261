package tokenizer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Special tokens of BERT vocabularies.
const (
	PadToken  = "[PAD]"
	UnkToken  = "[UNK]"
	ClsToken  = "[CLS]"
	SepToken  = "[SEP]"
	MaskToken = "[MASK]"
)

// SpecialTokens lists the special tokens in their conventional order.
var SpecialTokens = []string{PadToken, UnkToken, ClsToken, SepToken, MaskToken}

const (
	continuationPrefix   = "##"
	maxInputCharsPerWord = 100

	// DefaultModelMaxLength is the longest sequence BERT position embeddings cover.
	DefaultModelMaxLength = 512
)

// WordPiece implements the BERT uncased tokenizer: basic pre-tokenization
// followed by greedy longest-match-first sub-word splitting.
//
// Token ID layout is the vocabulary file order; special tokens may sit
// anywhere in it (bert-base-uncased has [PAD]=0, [UNK]=100, [CLS]=101,
// [SEP]=102, [MASK]=103).
type WordPiece struct {
	tokens         []string         // id → token
	vocab          map[string]int64 // token → id
	lowerCase      bool
	modelMaxLength int

	padID, unkID, clsID, sepID, maskID int64
}

// NewWordPiece builds a tokenizer from an ordered vocabulary.
// All special tokens must be present and tokens must be unique.
func NewWordPiece(tokens []string, lowerCase bool) (*WordPiece, error) {
	t := &WordPiece{
		tokens:         make([]string, len(tokens)),
		vocab:          make(map[string]int64, len(tokens)),
		lowerCase:      lowerCase,
		modelMaxLength: DefaultModelMaxLength,
	}
	for i, tok := range tokens {
		if tok == "" {
			return nil, fmt.Errorf("vocab: empty token at line %d", i+1)
		}
		if _, dup := t.vocab[tok]; dup {
			return nil, fmt.Errorf("vocab: duplicate token %q at line %d", tok, i+1)
		}
		t.tokens[i] = tok
		t.vocab[tok] = int64(i)
	}

	for _, sp := range []struct {
		tok string
		id  *int64
	}{
		{PadToken, &t.padID}, {UnkToken, &t.unkID}, {ClsToken, &t.clsID},
		{SepToken, &t.sepID}, {MaskToken, &t.maskID},
	} {
		id, ok := t.vocab[sp.tok]
		if !ok {
			return nil, fmt.Errorf("vocab: missing special token %s", sp.tok)
		}
		*sp.id = id
	}
	return t, nil
}

// Tokenize splits text into WordPiece tokens (no special tokens added).
func (t *WordPiece) Tokenize(text string) []string {
	var out []string
	for _, word := range basicTokenize(text, t.lowerCase) {
		out = append(out, t.wordPieces(word)...)
	}
	return out
}

// wordPieces splits one pre-token greedily, longest match first.
// A word that cannot be fully covered becomes a single [UNK].
func (t *WordPiece) wordPieces(word string) []string {
	if _, ok := t.vocab[word]; ok {
		return []string{word}
	}
	if utf8.RuneCountInString(word) > maxInputCharsPerWord {
		return []string{UnkToken}
	}

	var pieces []string
	start := 0
	for start < len(word) {
		end := len(word)
		found := ""
		for end > start {
			sub := word[start:end]
			if start > 0 {
				sub = continuationPrefix + sub
			}
			if _, ok := t.vocab[sub]; ok {
				found = sub
				break
			}
			_, size := utf8.DecodeLastRuneInString(word[start:end])
			end -= size
		}
		if found == "" {
			return []string{UnkToken}
		}
		pieces = append(pieces, found)
		start = end
	}
	return pieces
}

// Encode converts text to token IDs without [CLS]/[SEP].
func (t *WordPiece) Encode(text string) []int64 {
	pieces := t.Tokenize(text)
	ids := make([]int64, len(pieces))
	for i, p := range pieces {
		ids[i] = t.TokenID(p)
	}
	return ids
}

// Decode joins tokens back into text, merging "##" continuations and
// dropping padding, [CLS] and [SEP].
func (t *WordPiece) Decode(ids []int64) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == t.padID || id == t.clsID || id == t.sepID {
			continue
		}
		tok := t.IDToken(id)
		if rest, ok := strings.CutPrefix(tok, continuationPrefix); ok && sb.Len() > 0 {
			sb.WriteString(rest)
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok)
	}
	return sb.String()
}

// TokenID returns the id of a token, or the [UNK] id.
func (t *WordPiece) TokenID(tok string) int64 {
	if id, ok := t.vocab[tok]; ok {
		return id
	}
	return t.unkID
}

// IDToken returns the token for an id, or [UNK] when out of range.
func (t *WordPiece) IDToken(id int64) string {
	if id < 0 || int(id) >= len(t.tokens) {
		return UnkToken
	}
	return t.tokens[id]
}

// VocabSize returns the total vocabulary size.
func (t *WordPiece) VocabSize() int { return len(t.tokens) }

// LowerCase reports whether input is lower-cased and accent-stripped.
func (t *WordPiece) LowerCase() bool { return t.lowerCase }

// Vocab returns the tokens in id order.
func (t *WordPiece) Vocab() []string {
	out := make([]string, len(t.tokens))
	copy(out, t.tokens)
	return out
}

func (t *WordPiece) PadID() int64  { return t.padID }
func (t *WordPiece) UnkID() int64  { return t.unkID }
func (t *WordPiece) ClsID() int64  { return t.clsID }
func (t *WordPiece) SepID() int64  { return t.sepID }
func (t *WordPiece) MaskID() int64 { return t.maskID }
