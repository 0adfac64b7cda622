package server

import (
	"strings"

	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type publishRequest struct {
	Sender  string `validate:"required,max=64"`
	Content string `validate:"required"`
	Type    string `validate:"omitempty,oneof=CHAT SYSTEM"`
}

// validatePublish checks the frame-level shape of a publish. Scope
// authorization happens later; this rejects only locally-fixable input.
func validatePublish(sender, content, msgType string, maxContent int) error {
	req := publishRequest{Sender: sender, Content: strings.TrimSpace(content), Type: msgType}
	if err := validate.Struct(req); err != nil {
		return errors.ErrInvalidMessage
	}
	if len(content) > maxContent {
		return errors.ErrInvalidMessage
	}
	return nil
}

type joinRequest struct {
	Username string `validate:"required,min=1,max=64,excludesall= "`
}

func validateJoin(username string) error {
	if err := validate.Struct(joinRequest{Username: username}); err != nil {
		return errors.ErrInvalidMessage
	}
	return nil
}
