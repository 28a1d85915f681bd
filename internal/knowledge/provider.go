// Package knowledge supplies the static instruction bundle that seeds every
// upstream request.
package knowledge

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"portfolio-chat/internal/logger"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

//go:embed profile.toml
var defaultProfile []byte

// Profile is the knowledge bundle for the person the assistant represents
type Profile struct {
	Name            string `toml:"name"`
	Welcome         string `toml:"welcome"`
	LimitMessage    string `toml:"limit_message"`
	FallbackMessage string `toml:"fallback_message"`
	Template        string `toml:"template"`
	Context         string `toml:"context"`
}

// Provider renders the system prompt for a Profile
type Provider struct {
	profile Profile

	once   sync.Once
	prompt string
}

// NewProvider loads the profile at path, or the embedded default when path is empty
func NewProvider(path string) (*Provider, error) {
	data := defaultProfile
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading profile: %w", err)
		}
		data = raw
	}

	profile, err := ParseProfile(data)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"name":          profile.Name,
		"context_chars": len(profile.Context),
		"custom":        path != "",
	}).Info("Loaded knowledge profile")

	return &Provider{profile: profile}, nil
}

// MustDefault returns a provider over the embedded profile
func MustDefault() *Provider {
	p, err := NewProvider("")
	if err != nil {
		panic(err)
	}
	return p
}

// ParseProfile decodes a TOML profile and checks required fields
func ParseProfile(data []byte) (Profile, error) {
	var profile Profile
	if _, err := toml.Decode(string(data), &profile); err != nil {
		return Profile{}, fmt.Errorf("error decoding profile: %w", err)
	}
	if profile.Name == "" {
		return Profile{}, fmt.Errorf("profile name is required")
	}
	if !strings.Contains(profile.Template, "{context}") {
		return Profile{}, fmt.Errorf("profile template must contain {context}")
	}
	return profile, nil
}

// Profile returns the loaded profile
func (p *Provider) Profile() Profile {
	return p.profile
}

// SystemPrompt returns the instruction text sent upstream with every request
func (p *Provider) SystemPrompt() string {
	p.once.Do(func() {
		prompt := strings.ReplaceAll(p.profile.Template, "{name}", p.profile.Name)
		prompt = strings.Replace(prompt, "{context}", CleanMarkdown(p.profile.Context), 1)
		p.prompt = strings.TrimSpace(prompt)
		logger.Log.WithField("prompt_length", len(p.prompt)).Debug("Rendered system prompt")
	})
	return p.prompt
}

var (
	boldPattern       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern     = regexp.MustCompile(`\*(.+?)\*`)
	headerPattern     = regexp.MustCompile(`(?m)^#+\s+`)
	bulletPattern     = regexp.MustCompile(`(?m)^[-*]\s+`)
	rulePattern       = regexp.MustCompile(`(?m)^---+$`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

// CleanMarkdown strips formatting from the context to save prompt tokens
func CleanMarkdown(text string) string {
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = headerPattern.ReplaceAllString(text, "")
	text = bulletPattern.ReplaceAllString(text, "")
	text = rulePattern.ReplaceAllString(text, "")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
