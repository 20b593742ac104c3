package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/capitalize-ai/listing-chat/internal/model"
)

// MaxIdentityLength bounds identities and subject entity ids.
const MaxIdentityLength = model.MaxIdentityLength

// Validator checks inbound payloads. Failures are model.KindValidation
// errors naming the offending field by its JSON name.
type Validator struct {
	validate      *validator.Validate
	maxTextLength int
}

// NewValidator creates a validator allowing text bodies up to maxTextLength
// runes.
func NewValidator(maxTextLength int) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v, maxTextLength: maxTextLength}
}

// SendMessage normalizes req in place and validates it.
func (v *Validator) SendMessage(req *model.SendMessageRequest) error {
	req.Normalize()
	if err := v.structErr(req); err != nil {
		return err
	}
	if err := ValidateIdentity("receiverId", req.ReceiverID); err != nil {
		return err
	}
	if err := ValidateIdentity("subjectEntityId", req.SubjectEntityID); err != nil {
		return err
	}
	return v.ValidateText(req.Text)
}

// BindIdentity normalizes p in place and validates it.
func (v *Validator) BindIdentity(p *model.BindIdentityPayload) error {
	p.Identity = strings.TrimSpace(p.Identity)
	if err := v.structErr(p); err != nil {
		return err
	}
	return ValidateIdentity("identity", p.Identity)
}

// ValidateText validates a message body.
func (v *Validator) ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return model.ValidationFailed("text must be valid UTF-8")
	}
	if utf8.RuneCountInString(text) > v.maxTextLength {
		return model.ValidationFailed(fmt.Sprintf("text exceeds %d characters", v.maxTextLength))
	}
	return nil
}

func (v *Validator) structErr(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.ValidationFailed("invalid payload")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return model.ValidationFailed(fe.Field() + " is required")
	case "required_without":
		return model.ValidationFailed("text or attachment is required")
	case "max":
		return model.ValidationFailed(fe.Field() + " is too long")
	default:
		return model.ValidationFailed(fe.Field() + " is invalid")
	}
}

// ValidateIdentity validates a participant or subject entity identifier.
func ValidateIdentity(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return model.ValidationFailed(field + " is required")
	}
	if len(id) > MaxIdentityLength {
		return model.ValidationFailed(field + " exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return model.ValidationFailed(field + " must be valid UTF-8")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.ValidationFailed("invalid message ID format")
	}
	return nil
}
