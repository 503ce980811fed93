package repository

import (
	"errors"

	"github.com/Sasha125a/sphere-dev-network/internal/domain"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = domain.ErrNotFound

// ErrInvalidArgument indicates the store rejected a malformed value.
var ErrInvalidArgument = errors.New("repository: invalid argument")
