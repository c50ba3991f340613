// Package validation turns malformed rules, condition specs, escalation
// policies, suppression windows and channels into *types.ValidationError.
// Struct-tag checks run through go-playground/validator; cross-field rules
// that tags cannot express (tag/variant agreement, level ordering) are
// checked by hand.
package validation
