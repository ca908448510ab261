package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File names written by Save and read by LoadWordPiece.
const (
	VocabFile         = "vocab.txt"
	ConfigFile        = "tokenizer_config.json"
	SpecialTokensFile = "special_tokens_map.json"
)

type tokenizerConfig struct {
	TokenizerClass string `json:"tokenizer_class"`
	DoLowerCase    bool   `json:"do_lower_case"`
	ModelMaxLength int    `json:"model_max_length"`
	PadToken       string `json:"pad_token"`
	UnkToken       string `json:"unk_token"`
	ClsToken       string `json:"cls_token"`
	SepToken       string `json:"sep_token"`
	MaskToken      string `json:"mask_token"`
}

type specialTokensMap struct {
	PadToken  string `json:"pad_token"`
	UnkToken  string `json:"unk_token"`
	ClsToken  string `json:"cls_token"`
	SepToken  string `json:"sep_token"`
	MaskToken string `json:"mask_token"`
}

// Save writes vocab.txt, tokenizer_config.json and special_tokens_map.json
// into dir, creating it if needed.
//
// vocab.txt holds one token per line; the line index is the token id.
func (t *WordPiece) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(dir, VocabFile))
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, tok := range t.tokens {
		fmt.Fprintln(w, tok)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	cfg := tokenizerConfig{
		TokenizerClass: "BertTokenizer",
		DoLowerCase:    t.lowerCase,
		ModelMaxLength: t.modelMaxLength,
		PadToken:       PadToken,
		UnkToken:       UnkToken,
		ClsToken:       ClsToken,
		SepToken:       SepToken,
		MaskToken:      MaskToken,
	}
	if err := writeJSON(filepath.Join(dir, ConfigFile), cfg); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, SpecialTokensFile), specialTokensMap{
		PadToken: PadToken, UnkToken: UnkToken, ClsToken: ClsToken, SepToken: SepToken, MaskToken: MaskToken,
	})
}

// LoadWordPiece restores a tokenizer from a directory written by Save or
// downloaded from the hub. tokenizer_config.json is optional; without it
// the vocabulary is treated as uncased.
func LoadWordPiece(dir string) (*WordPiece, error) {
	lowerCase := true
	maxLen := DefaultModelMaxLength

	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	switch {
	case err == nil:
		cfg := tokenizerConfig{DoLowerCase: true}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", ConfigFile, err)
		}
		lowerCase = cfg.DoLowerCase
		if cfg.ModelMaxLength > 0 && cfg.ModelMaxLength < 1<<20 {
			maxLen = cfg.ModelMaxLength
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	t, err := LoadVocabFile(filepath.Join(dir, VocabFile), lowerCase)
	if err != nil {
		return nil, err
	}
	t.modelMaxLength = maxLen
	return t, nil
}

// LoadVocabFile reads a vocab.txt file.
func LoadVocabFile(path string, lowerCase bool) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	t, err := NewWordPiece(tokens, lowerCase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
