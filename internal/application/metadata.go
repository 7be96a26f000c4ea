// Package application decodes round application metadata and turns approved
// applications into the project list a distribution is computed over.
package application

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownFormat is returned for documents that are neither variant.
var ErrUnknownFormat = errors.New("unknown application metadata format")

// Variant identifies which document shape Parse recognised.
type Variant int

const (
	VariantUnknown Variant = iota
	// VariantBare is the application object itself.
	VariantBare
	// VariantWrapped is {signature, application}.
	VariantWrapped
)

func (v Variant) String() string {
	switch v {
	case VariantBare:
		return "bare"
	case VariantWrapped:
		return "wrapped"
	default:
		return "unknown"
	}
}

// Project is the project part of an application.
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Website     string `json:"website"`
	LogoImg     string `json:"logoImg,omitempty"`
}

type Answer struct {
	QuestionID int    `json:"questionId"`
	Question   string `json:"question"`
	Answer     string `json:"answer,omitempty"`
}

// Metadata is the decoded application document.
type Metadata struct {
	Round     string   `json:"round"`
	Recipient string   `json:"recipient"`
	Project   *Project `json:"project"`
	Answers   []Answer `json:"answers,omitempty"`
	Signature string   `json:"-"`
}

type wrapped struct {
	Signature   string          `json:"signature"`
	Application json.RawMessage `json:"application"`
}

// Parse decodes raw, trying the wrapped variant before the bare one.
func Parse(raw []byte) (Metadata, Variant, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Metadata{}, VariantUnknown, ErrUnknownFormat
	}

	var w wrapped
	if err := json.Unmarshal(raw, &w); err != nil {
		return Metadata{}, VariantUnknown, fmt.Errorf("decode application metadata: %w", err)
	}
	if len(w.Application) > 0 && !bytes.Equal(w.Application, []byte("null")) {
		meta, err := decodeApplication(w.Application)
		if err == nil {
			meta.Signature = w.Signature
			return meta, VariantWrapped, nil
		}
	}

	meta, err := decodeApplication(raw)
	if err != nil {
		return Metadata{}, VariantUnknown, err
	}
	return meta, VariantBare, nil
}

func decodeApplication(raw []byte) (Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, ErrUnknownFormat
	}
	if meta.Project == nil {
		return Metadata{}, ErrUnknownFormat
	}
	return meta, nil
}
