package domain

import "errors"

// Validation errors surfaced to callers. Writes that fail validation leave no
// partial state behind.
var (
	// ErrUnknownStage means a transition referenced a stage slug with no
	// StageDefinition.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrUnknownTest means the referenced experiment does not exist.
	ErrUnknownTest = errors.New("unknown test")

	// ErrUnknownVariant means the (test, variant) pair does not exist.
	ErrUnknownVariant = errors.New("unknown variant")

	// ErrTestNotActive means assignment was requested for a test that is not
	// in the active status.
	ErrTestNotActive = errors.New("test not active")

	// ErrNoVariants means assignment was requested for a test with no
	// variants at all.
	ErrNoVariants = errors.New("test has no variants")

	// ErrNoEligibleVariants means activation or assignment found no variant
	// with a positive traffic weight.
	ErrNoEligibleVariants = errors.New("no variants with positive traffic weight")

	// ErrDuplicateStage means a stage slug or position is already taken.
	ErrDuplicateStage = errors.New("duplicate stage slug or position")
)
