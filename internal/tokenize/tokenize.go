package tokenize

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Control token ids sit above every tiktoken vocabulary, so they can never
// collide with ids produced by an encoder.
const (
	// ClsID opens every encoded sequence
	ClsID = 1000000
	// SepID closes each text segment
	SepID = 1000001
	// PadID fills encodings up to the padded length
	PadID = 1000002
)

// Padding selects how encodings are padded
type Padding string

const (
	// PadMaxLength pads every encoding to the configured maximum length at encode time
	PadMaxLength Padding = "max_length"
	// PadDynamic defers padding to batch assembly
	PadDynamic Padding = "dynamic"
)

// Options fixes the sequence policy for one encode call
type Options struct {
	MaxLength  int
	Padding    Padding
	Truncation bool
}

// Encoding is the tokenized form of one example
type Encoding struct {
	InputIDs      []int `json:"input_ids"`
	TypeIDs       []int `json:"token_type_ids"`
	AttentionMask []int `json:"attention_mask"`
}

// Tokenizer converts one or two text segments into model inputs
type Tokenizer interface {
	// Encode tokenizes segment a, and segment b when non-empty, into a single
	// classifier sequence.
	Encode(a, b string, opts Options) (Encoding, error)
	// Identity returns a stable description of the tokenizer for cache keys.
	Identity() string
}

// BPE is a Tokenizer backed by a tiktoken byte-pair encoding
type BPE struct {
	encodingName string
	tke          *tiktoken.Tiktoken
}

// NewBPE resolves modelOrEncoding as an encoding name first, then as a model
// name, falling back to cl100k_base when neither matches.
func NewBPE(modelOrEncoding string) (*BPE, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}

	encodingName := modelOrEncoding
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			tke, err = tiktoken.GetEncoding(defaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("failed to get default encoding %q: %w", defaultEncoding, err)
			}
		}
		encodingName = defaultEncoding
	}

	return &BPE{
		encodingName: encodingName,
		tke:          tke,
	}, nil
}

// Identity returns the encoding name prefixed with the tokenizer family
func (t *BPE) Identity() string {
	return "tiktoken/" + t.encodingName
}

// Encode tokenizes one or two segments into [CLS] a [SEP] (b [SEP]) form.
// With truncation enabled the longer segment is trimmed first until the
// sequence fits the maximum length.
func (t *BPE) Encode(a, b string, opts Options) (Encoding, error) {
	if t.tke == nil {
		return Encoding{}, fmt.Errorf("tokenizer encoding %s is not initialized", t.encodingName)
	}

	idsA := t.tke.Encode(a, nil, nil)
	var idsB []int
	pair := b != ""
	if pair {
		idsB = t.tke.Encode(b, nil, nil)
	}

	if opts.Truncation && opts.MaxLength > 0 {
		specials := 2
		if pair {
			specials = 3
		}
		budget := opts.MaxLength - specials
		if budget < 0 {
			budget = 0
		}

		if pair {
			for len(idsA)+len(idsB) > budget {
				if len(idsA) >= len(idsB) {
					idsA = idsA[:len(idsA)-1]
				} else {
					idsB = idsB[:len(idsB)-1]
				}
			}
		} else if len(idsA) > budget {
			idsA = idsA[:budget]
		}
	}

	size := len(idsA) + 2
	if pair {
		size += len(idsB) + 1
	}
	if opts.Padding == PadMaxLength && opts.MaxLength > size {
		size = opts.MaxLength
	}

	enc := Encoding{
		InputIDs:      make([]int, 0, size),
		TypeIDs:       make([]int, 0, size),
		AttentionMask: make([]int, 0, size),
	}

	enc.InputIDs = append(enc.InputIDs, ClsID)
	enc.TypeIDs = append(enc.TypeIDs, 0)
	for _, id := range idsA {
		enc.InputIDs = append(enc.InputIDs, id)
		enc.TypeIDs = append(enc.TypeIDs, 0)
	}
	enc.InputIDs = append(enc.InputIDs, SepID)
	enc.TypeIDs = append(enc.TypeIDs, 0)

	if pair {
		for _, id := range idsB {
			enc.InputIDs = append(enc.InputIDs, id)
			enc.TypeIDs = append(enc.TypeIDs, 1)
		}
		enc.InputIDs = append(enc.InputIDs, SepID)
		enc.TypeIDs = append(enc.TypeIDs, 1)
	}

	for range enc.InputIDs {
		enc.AttentionMask = append(enc.AttentionMask, 1)
	}

	if opts.Padding == PadMaxLength {
		for len(enc.InputIDs) < opts.MaxLength {
			enc.InputIDs = append(enc.InputIDs, PadID)
			enc.TypeIDs = append(enc.TypeIDs, 0)
			enc.AttentionMask = append(enc.AttentionMask, 0)
		}
	}

	return enc, nil
}

// PadBatch pads every encoding in the batch to the length of the longest one
func PadBatch(encs []Encoding) []Encoding {
	longest := 0
	for _, e := range encs {
		if len(e.InputIDs) > longest {
			longest = len(e.InputIDs)
		}
	}

	out := make([]Encoding, len(encs))
	for i, e := range encs {
		padded := Encoding{
			InputIDs:      append([]int(nil), e.InputIDs...),
			TypeIDs:       append([]int(nil), e.TypeIDs...),
			AttentionMask: append([]int(nil), e.AttentionMask...),
		}
		for len(padded.InputIDs) < longest {
			padded.InputIDs = append(padded.InputIDs, PadID)
			padded.TypeIDs = append(padded.TypeIDs, 0)
			padded.AttentionMask = append(padded.AttentionMask, 0)
		}
		out[i] = padded
	}
	return out
}
