package domain

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

const (
	// TokenPrefix marks version-1 confirmation tokens.
	TokenPrefix = "rg1:"
	// LegacyTokenPrefix marks ids posted by the single-flow bot
	// ("confirm_read_<memberId>").
	LegacyTokenPrefix = "confirm_read_"
	// MaxTokenLen is the platform ceiling for a component custom id.
	MaxTokenLen = 100

	tokenVersion = 1
)

var (
	// ErrMalformedToken is returned for ids that are not confirmation tokens
	// or cannot be decoded.
	ErrMalformedToken = errors.New("malformed confirmation token")
	// ErrTokenTooLong is returned when an encoded token would exceed MaxTokenLen.
	ErrTokenTooLong = errors.New("confirmation token exceeds length limit")
)

// ConfirmToken identifies the flow and target member of a confirmation
// control. The payload is JSON wrapped in unpadded base64url, so flow names
// may contain any character without affecting parsing.
type ConfirmToken struct {
	Version int    `json:"v"`
	Flow    string `json:"f"`
	Member  string `json:"m"`
}

// EncodeConfirmToken serializes (flow, member) into a custom id.
func EncodeConfirmToken(flow, member string) (string, error) {
	if member == "" {
		return "", ErrMalformedToken
	}
	raw, err := json.Marshal(ConfirmToken{Version: tokenVersion, Flow: flow, Member: member})
	if err != nil {
		return "", err
	}
	out := TokenPrefix + base64.RawURLEncoding.EncodeToString(raw)
	if len(out) > MaxTokenLen {
		return "", ErrTokenTooLong
	}
	return out, nil
}

// DecodeConfirmToken parses a custom id produced by EncodeConfirmToken or by
// the legacy single-flow bot. Legacy ids decode with Version 0 and an empty
// Flow.
func DecodeConfirmToken(s string) (ConfirmToken, error) {
	switch {
	case strings.HasPrefix(s, TokenPrefix):
		raw, err := base64.RawURLEncoding.DecodeString(s[len(TokenPrefix):])
		if err != nil {
			return ConfirmToken{}, ErrMalformedToken
		}
		var t ConfirmToken
		if err := json.Unmarshal(raw, &t); err != nil {
			return ConfirmToken{}, ErrMalformedToken
		}
		if t.Version != tokenVersion || t.Member == "" {
			return ConfirmToken{}, ErrMalformedToken
		}
		return t, nil
	case strings.HasPrefix(s, LegacyTokenPrefix):
		member := s[len(LegacyTokenPrefix):]
		if member == "" || strings.Contains(member, "_") {
			return ConfirmToken{}, ErrMalformedToken
		}
		return ConfirmToken{Member: member}, nil
	default:
		return ConfirmToken{}, ErrMalformedToken
	}
}

// IsConfirmToken reports whether a custom id belongs to this bot.
func IsConfirmToken(s string) bool {
	return strings.HasPrefix(s, TokenPrefix) || strings.HasPrefix(s, LegacyTokenPrefix)
}
