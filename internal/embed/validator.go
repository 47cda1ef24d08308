// Package embed validates the optional rich-content payload attached to chat
// messages. Malformed fields are nulled rather than rejected so a broken
// embed never blocks the message itself.
package embed

import (
	"github.com/charlesng35/parlor/pkg/validator"
)

const (
	maxTitleLength       = 128
	maxDescriptionLength = 1024
)

// Embed is the optional rich payload carried alongside a chat message.
type Embed struct {
	URL         string `json:"url,omitempty" validate:"omitempty,http_url"`
	Title       string `json:"title,omitempty" validate:"omitempty,max=128"`
	Description string `json:"description,omitempty" validate:"omitempty,max=1024"`
	Color       string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// Validate returns a copy of the embed with every malformed field cleared.
// If nothing survives, it returns nil and the message goes out without an
// embed. A nil input stays nil.
func Validate(e *Embed) *Embed {
	if e == nil {
		return nil
	}

	out := *e
	if err := validator.ValidateStruct(&out); err != nil {
		failures, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil
		}
		for _, field := range failures.Fields() {
			switch field {
			case "url":
				out.URL = ""
			case "title":
				out.Title = truncate(e.Title, maxTitleLength)
			case "description":
				out.Description = truncate(e.Description, maxDescriptionLength)
			case "color":
				out.Color = ""
			}
		}
	}

	if out == (Embed{}) {
		return nil
	}
	return &out
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
