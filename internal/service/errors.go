package service

import (
	"errors"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
)

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
