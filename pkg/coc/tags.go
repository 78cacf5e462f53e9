package coc

import (
	"fmt"
	"strings"
)

// tagAlphabet lists every character that can appear in a game tag
const tagAlphabet = "0289PYLQGRJCUV"

const (
	minTagLength = 3
	maxTagLength = 12
)

// NormalizeTag upper-cases a tag, maps the letter O to zero and adds the '#' prefix
func NormalizeTag(tag string) string {
	tag = strings.ToUpper(strings.TrimSpace(tag))
	tag = strings.TrimLeft(tag, "#")
	tag = strings.ReplaceAll(tag, "O", "0")
	return "#" + tag
}

// ValidateTag normalizes tag and rejects anything that cannot be a game tag
func ValidateTag(tag string) (string, error) {
	norm := NormalizeTag(tag)
	body := norm[1:]
	if len(body) < minTagLength || len(body) > maxTagLength {
		return norm, fmt.Errorf("%w: %q has %d characters", ErrInvalidTag, tag, len(body))
	}
	for _, r := range body {
		if !strings.ContainsRune(tagAlphabet, r) {
			return norm, fmt.Errorf("%w: %q contains %q", ErrInvalidTag, tag, r)
		}
	}
	return norm, nil
}
