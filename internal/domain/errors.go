package domain

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced at the API boundary.
const (
	CodeNotFound              = "NotFound"
	CodePathViolation         = "PathViolation"
	CodeCapacityExceeded      = "CapacityExceeded"
	CodeInsufficientResources = "InsufficientResources"
	CodeDeploymentFailed      = "DeploymentFailed"
	CodeDuplicateDomain       = "DuplicateDomain"
	CodeStorageFailure        = "StorageFailure"
	CodeUnknownServer         = "UnknownServer"
	CodeInvalidInput          = "InvalidInput"
	CodeProjectExists         = "ProjectExists"
	CodeAlreadyDeployed       = "AlreadyDeployed"
	CodeInternal              = "Internal"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrPathViolation         = errors.New("path escapes project root")
	ErrCapacityExceeded      = errors.New("server is at full capacity")
	ErrInsufficientResources = errors.New("server has insufficient resources")
	ErrDeploymentFailed      = errors.New("deployment failed")
	ErrDuplicateDomain       = errors.New("domain already registered")
	ErrStorageFailure        = errors.New("storage failure")
	ErrUnknownServer         = errors.New("unknown server")
	ErrInvalidInput          = errors.New("invalid input")
	ErrProjectExists         = errors.New("project already exists")
	ErrAlreadyDeployed       = errors.New("project already deployed on server")
)

// DeploymentError reports the pipeline stage that aborted a deployment.
type DeploymentError struct {
	DeploymentID string
	Stage        string
	Err          error
}

func (e *DeploymentError) Error() string {
	return fmt.Sprintf("deployment failed at stage %s: %v", e.Stage, e.Err)
}

func (e *DeploymentError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDeploymentFailed) match any stage failure.
func (e *DeploymentError) Is(target error) bool { return target == ErrDeploymentFailed }

// StorageError wraps an underlying I/O error as a StorageFailure.
func StorageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageFailure, op, err)
}

// Invalid builds an InvalidInput error with a message.
func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// Code maps err to its stable code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPathViolation):
		return CodePathViolation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, ErrInsufficientResources):
		return CodeInsufficientResources
	case errors.Is(err, ErrDeploymentFailed):
		return CodeDeploymentFailed
	case errors.Is(err, ErrDuplicateDomain):
		return CodeDuplicateDomain
	case errors.Is(err, ErrUnknownServer):
		return CodeUnknownServer
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrProjectExists):
		return CodeProjectExists
	case errors.Is(err, ErrAlreadyDeployed):
		return CodeAlreadyDeployed
	case errors.Is(err, ErrStorageFailure):
		return CodeStorageFailure
	default:
		return CodeInternal
	}
}
