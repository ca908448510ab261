package tokenizer

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// TrainVocab builds a WordPiece vocabulary of at most size tokens from a
// corpus, for backbones trained from scratch.
//
// Layout:
//  1. special tokens ([PAD] [UNK] [CLS] [SEP] [MASK])
//  2. every character seen, then its "##" continuation form
//  3. whole words by descending frequency
//
// Ties break lexicographically, so the same corpus always yields the same
// vocabulary. Characters are always kept even past size, so that any word
// in the corpus can be spelled.
func TrainVocab(corpus []string, size int, lowerCase bool) (*WordPiece, error) {
	if size < len(SpecialTokens) {
		return nil, fmt.Errorf("vocab size %d smaller than the %d special tokens", size, len(SpecialTokens))
	}

	wordCounts := make(map[string]int)
	charCounts := make(map[string]int)
	for _, text := range corpus {
		for _, w := range basicTokenize(text, lowerCase) {
			wordCounts[w]++
			for _, r := range w {
				charCounts[string(r)]++
			}
		}
	}

	tokens := append([]string(nil), SpecialTokens...)
	seen := make(map[string]bool, size)
	for _, tok := range tokens {
		seen[tok] = true
	}
	add := func(tok string) {
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	chars := byFrequency(charCounts)
	for _, c := range chars {
		add(c)
	}
	for _, c := range chars {
		add(continuationPrefix + c)
	}

	for _, w := range byFrequency(wordCounts) {
		if len(tokens) >= size {
			break
		}
		if utf8.RuneCountInString(w) > 1 {
			add(w)
		}
	}

	return NewWordPiece(tokens, lowerCase)
}

// byFrequency returns keys sorted by descending count, then ascending key.
func byFrequency(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys
}
