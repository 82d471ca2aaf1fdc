package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrAlreadyExists   = errors.New("entity already exists")

	// Orchestration errors
	ErrClaimHeld        = errors.New("unit is claimed by another caller")
	ErrJobNotRunnable   = errors.New("job is not in a runnable state")
	ErrApprovalPending  = errors.New("approval decision is pending")
	ErrApprovalRequired = errors.New("stage requires an approval decision")
	ErrNoProposal       = errors.New("no fresh proposal for rejected stage")
	ErrStaleDecision    = errors.New("decision does not match the gated stage")
	ErrValidation       = errors.New("generated output failed validation")
	ErrUnknownFormat    = errors.New("unknown content format")

	// Storage plumbing
	ErrInvalidExecContext = errors.New("invalid executor context passed to repository")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
