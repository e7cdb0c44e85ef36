// Package errors provides standardized error handling for onboard.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: registry or network trouble, safe to retry
//   - Invalid: malformed specs, inputs or DMaaP maps
//   - Fatal: unrecoverable configuration or deployment failures
//
// # Wrapping
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Use the class-aware wrappers at package boundaries:
//
//	if err := reg.Put(ctx, key, value); err != nil {
//	    return errors.WrapTransient(err, "appconfig", "Push", "write config key")
//	}
//
// # Domain errors
//
// ErrNoDownstreamComponent is the resolver's hard failure. It is returned as a
// *NoDownstreamError carrying the component, config key and chosen downstream
// type, and matches the sentinel through errors.Is:
//
//	if errors.Is(err, errors.ErrNoDownstreamComponent) {
//	    // rerun with force to bind an empty placeholder
//	}
//
// MissingInputsError plays the same role for deployment-time inputs.
package errors
