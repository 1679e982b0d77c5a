// Package dbmigrator applies versioned SQL recipes to a database while
// keeping an append-only changelog of everything it did.
//
// Recipes come in four kinds: baselines initialize a fresh database, upgrades
// advance it one version at a time, and reverts and fixups correct the
// recorded history of versions that were already applied. The changelog is
// folded into an [EffectiveState], compared with the recipes by [NewPlan],
// and the resulting [Plan] is applied by [Execute], one transaction per
// recipe, under a database-wide lock.
//
// Most callers only need [Load] and [Migrate]; see the postgres and sqlite
// packages for [Conn] implementations.
package dbmigrator

import (
	"context"
	"io/fs"
)

// Migrate loads recipes from dir and applies them with a [Migrator] using the
// default settings. See [Migrator.Migrate].
func Migrate(ctx context.Context, conn Conn, dir fs.FS, logger Logger) (*Report, error) {
	recipes, err := Load(dir)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(recipes)
	migrator.Logger = logger
	return migrator.Migrate(ctx, conn)
}

// Verify loads recipes from dir and checks the changelog against them. See
// [Migrator.Verify].
func Verify(ctx context.Context, conn Conn, dir fs.FS, logger Logger) ([]VerificationError, error) {
	recipes, err := Load(dir)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(recipes)
	migrator.Logger = logger
	return migrator.Verify(ctx, conn)
}

// PlanMigration loads recipes from dir and shows what [Migrate] would do. See
// [Migrator.Plan].
func PlanMigration(ctx context.Context, conn Conn, dir fs.FS, logger Logger) (*Plan, error) {
	recipes, err := Load(dir)
	if err != nil {
		return nil, err
	}
	migrator := NewMigrator(recipes)
	migrator.Logger = logger
	return migrator.Plan(ctx, conn)
}

// Changelog returns every changelog row in log_id order. See
// [Migrator.Changelog].
func Changelog(ctx context.Context, conn Conn, logger Logger) ([]ChangelogRow, error) {
	migrator := NewMigrator(nil)
	migrator.Logger = logger
	return migrator.Changelog(ctx, conn)
}
