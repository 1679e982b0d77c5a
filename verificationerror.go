package dbmigrator

// A VerificationError is a warning about the changelog that does not stop a
// migration. It is one of:
//
//   - a version is applied to the database but no baseline or upgrade recipe
//     describes it: this can happen if a release containing a recipe is rolled
//     back after the recipe was applied.
//   - an upgrade below the current version was never applied: this can happen
//     when two branches add recipes concurrently. Enable AllowOutOfOrder to
//     apply it anyway.
//   - a changelog row was started but never finished: a previous run stopped
//     in the middle of a recipe.
//
// These are worth showing to a human operator, but should not be treated the
// same as a failure to apply recipes.
type VerificationError struct {
	Message string
	Fields  map[string]any
}
