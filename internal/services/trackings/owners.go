package trackings

import (
	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/pkg/errors"
)

type OwnerKindConfig struct {
	// Label is used in the initial status text, e.g. "Order created".
	Label string
	// StatusMutable allows the tracking service to write the owner's status.
	StatusMutable bool
}

type OwnerKinds map[models.OwnerKind]OwnerKindConfig

func DefaultOwnerKinds() OwnerKinds {
	return OwnerKinds{
		models.OwnerKindOrder:  {Label: "Order", StatusMutable: true},
		models.OwnerKindEntity: {Label: "Entity", StatusMutable: true},
	}
}

func (k OwnerKinds) lookup(kind models.OwnerKind) (OwnerKindConfig, error) {
	kc, ok := k[kind]
	if !ok {
		return OwnerKindConfig{}, errors.Wrapf(ErrUnsupportedOwnerKind, "%q", kind)
	}
	return kc, nil
}
