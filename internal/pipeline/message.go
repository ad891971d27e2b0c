package pipeline

import (
	"fmt"

	"github.com/ppiankov/kbpublish/internal/model"
)

// UserMessage maps an outcome to short text suitable for end users
func UserMessage(outcome *model.PublishOutcome) string {
	if outcome == nil {
		return ""
	}
	if outcome.Success {
		if outcome.DryRun {
			return fmt.Sprintf("Dry run passed. Nothing was written to %s.", outcome.PublishedTarget)
		}
		verb := "Published"
		if outcome.Action == model.ActionUpdate {
			verb = "Updated"
		}
		return fmt.Sprintf("%s as %s on %s.", verb, outcome.Identifier, outcome.PublishedTarget)
	}
	if outcome.Error == nil {
		return "Publishing failed."
	}

	e := outcome.Error
	switch e.Kind {
	case model.ErrValidation:
		return fmt.Sprintf("The entity is incomplete: %s.", e.Message)
	case model.ErrConflict:
		if e.ExistingID != "" {
			return fmt.Sprintf("An entity with this name already exists (%s).", e.ExistingID)
		}
		return "An entity with this name already exists."
	case model.ErrNetwork:
		return "The knowledge base could not be reached. Try again later."
	case model.ErrAuthentication, model.ErrTokenExpired:
		return "Could not sign in to the knowledge base. Check the configured credentials."
	case model.ErrNotNotable:
		return fmt.Sprintf("Not enough independent sources to publish: %s.", e.Message)
	case model.ErrUnsupportedTarget:
		return "The requested target is not available."
	default:
		return fmt.Sprintf("The knowledge base rejected the edit: %s.", e.Message)
	}
}
