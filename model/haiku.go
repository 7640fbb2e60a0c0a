package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/panyam/haikuplus/errs"
)

// Haiku is a three line poem with its author and interactive post targets.
type Haiku struct {
	Object
	Author                 *User
	Title                  string `validate:"required,max=255"`
	LineOne                string `validate:"required,max=255"`
	LineTwo                string `validate:"required,max=255"`
	LineThree              string `validate:"required,max=255"`
	ContentURL             string
	ContentDeepLinkID      string
	CallToActionURL        string
	CallToActionDeepLinkID string
	Votes                  int
	CreationTime           time.Time
}

// HaikuSchema declares the wire fields of a Haiku.
var HaikuSchema = NewSchema(
	StringField(IdentifierKey, func(h *Haiku) *string { return &h.Identifier }),
	NestedField("author", UserSchema, func(h *Haiku) **User { return &h.Author }),
	StringField("title", func(h *Haiku) *string { return &h.Title }),
	StringField("line_one", func(h *Haiku) *string { return &h.LineOne }),
	StringField("line_two", func(h *Haiku) *string { return &h.LineTwo }),
	StringField("line_three", func(h *Haiku) *string { return &h.LineThree }),
	StringField("content_url", func(h *Haiku) *string { return &h.ContentURL }),
	StringField("content_deep_link_id", func(h *Haiku) *string { return &h.ContentDeepLinkID }),
	StringField("call_to_action_url", func(h *Haiku) *string { return &h.CallToActionURL }),
	StringField("call_to_action_deep_link_id", func(h *Haiku) *string { return &h.CallToActionDeepLinkID }),
	NonNegativeIntField("votes", func(h *Haiku) *int { return &h.Votes }),
	TimeField("creation_time", func(h *Haiku) *time.Time { return &h.CreationTime }),
)

// HaikuFromRecord builds a Haiku from r, including its embedded author.
func HaikuFromRecord(r Record) *Haiku {
	return HaikuSchema.FromRecord(r)
}

// HaikusFromRecords builds one Haiku per record, preserving order.
func HaikusFromRecords(records []Record) []*Haiku {
	return HaikuSchema.ListFromRecords(records)
}

// Record returns the wire form of h.
func (h *Haiku) Record() Record {
	return HaikuSchema.ToRecord(h)
}

// Lines returns the three lines in order.
func (h *Haiku) Lines() [3]string {
	return [3]string{h.LineOne, h.LineTwo, h.LineThree}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validate checks that h can be submitted: a title and all three lines,
// none longer than 255 characters.
func (h *Haiku) Validate() error {
	validateOnce.Do(func() { validate = validator.New(validator.WithRequiredStructEnabled()) })

	if h == nil {
		return errs.New(errs.Validation, errs.CodeInvalidHaiku, "haiku is nil")
	}
	err := validate.Struct(h)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &errs.Error{Kind: errs.Validation, Code: errs.CodeInvalidHaiku, Err: err}
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			problems = append(problems, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			problems = append(problems, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errs.New(errs.Validation, errs.CodeInvalidHaiku, strings.Join(problems, "; "))
}
