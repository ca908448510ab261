package tokenizer

// Tokenizer is the common interface for tokenizers in this module.
// WordPiece implements it.
type Tokenizer interface {
	Encode(text string) []int64
	Decode(tokens []int64) string
	VocabSize() int
}
