package note

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/kekehq/keke/internal/apperr"
)

// Validate checks the required fields and enum values for the note's type.
func (n *Note) Validate() error {
	err := validation.ValidateStruct(n,
		validation.Field(&n.ID, validation.Required),
		validation.Field(&n.Type, validation.Required, validation.In(
			TypeMemory, TypeTask, TypeKnowledge, TypePerson, TypeQuickNote)),
		validation.Field(&n.Created, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	switch n.Type {
	case TypeMemory:
		err = validation.ValidateStruct(n,
			validation.Field(&n.Importance, validation.Required, validation.In(
				ImportanceLow, ImportanceMedium, ImportanceHigh)),
		)
	case TypeTask:
		err = validation.ValidateStruct(n,
			validation.Field(&n.Status, validation.Required, validation.In(
				StatusNotStarted, StatusInProgress, StatusCompleted, StatusDeferred)),
		)
	case TypePerson:
		err = validation.ValidateStruct(n,
			validation.Field(&n.Relationship, validation.Required),
		)
	case TypeQuickNote:
		err = validation.ValidateStruct(n,
			validation.Field(&n.DisplayMode, validation.In("card", "list", "calendar", "")),
		)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}
