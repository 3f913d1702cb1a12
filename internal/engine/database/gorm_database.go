// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/engine/models"
)

// GormDB wraps the GORM database connection
type GormDB struct {
	db *gorm.DB
}

// NewGormDB creates a new GORM database connection
func NewGormDB(cfg *config.DatabaseConfig) (*GormDB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.GetDSN())
	case "postgres":
		dialector = postgres.Open(cfg.GetDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Reduce GORM log noise
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// one writer, and one shared connection for in-memory databases
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &GormDB{db: db}, nil
}

// AutoMigrate runs database migrations
func (db *GormDB) AutoMigrate() error {
	return db.db.AutoMigrate(models.AllModels()...)
}

// ValidateSchema checks if GORM models match the database schema
func (db *GormDB) ValidateSchema() error {
	var missingTables []string
	var missingColumns []string
	var missingIndexes []string

	tables := map[string]any{
		"actions":               &models.Action{},
		"grants":                &models.Grant{},
		"streak_states":         &models.StreakState{},
		"referral_edges":        &models.ReferralEdge{},
		"badge_awards":          &models.BadgeAward{},
		"actor_flags":           &models.ActorFlag{},
		"leaderboard_snapshots": &models.LeaderboardSnapshot{},
		"reorg_jobs":            &models.ReorgJob{},
	}
	for name, model := range tables {
		if !db.db.Migrator().HasTable(model) {
			missingTables = append(missingTables, name)
		}
	}
	if len(missingTables) > 0 {
		return fmt.Errorf("missing tables: %v\n\n💡 Run 'rankledger-migrate' to create the required tables", missingTables)
	}

	actionColumns := []string{"ref_key", "invalidated_by", "seq", "block", "tx_index", "log_index", "actor", "target", "type", "payload", "block_time"}
	for _, col := range actionColumns {
		if !db.db.Migrator().HasColumn(&models.Action{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("actions.%s", col))
		}
	}
	grantColumns := []string{"grant_id", "actor", "amount", "reason", "source_ref", "action_seq", "reverses", "created_at"}
	for _, col := range grantColumns {
		if !db.db.Migrator().HasColumn(&models.Grant{}, col) {
			missingColumns = append(missingColumns, fmt.Sprintf("grants.%s", col))
		}
	}
	if len(missingColumns) > 0 {
		return fmt.Errorf("missing columns: %v\n\n💡 Run 'rankledger-migrate' to add the required columns", missingColumns)
	}

	indexes := []struct {
		model any
		name  string
	}{
		{&models.Action{}, "idx_actions_ref_live"},
		{&models.ReferralEdge{}, "idx_referral_edges_live"},
		{&models.BadgeAward{}, "idx_badge_awards_live"},
		{&models.ActorFlag{}, "idx_actor_flags_actor_flag"},
	}
	for _, ix := range indexes {
		if !db.db.Migrator().HasIndex(ix.model, ix.name) {
			missingIndexes = append(missingIndexes, ix.name)
		}
	}
	if len(missingIndexes) > 0 {
		return fmt.Errorf("missing indexes: %v\n\n💡 Run 'rankledger-migrate' to add the required indexes", missingIndexes)
	}

	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return err
}

// ============================================================================
// Cascade Operations
// ============================================================================

// CommitCascade persists one action and all of its effects atomically.
func (db *GormDB) CommitCascade(ctx context.Context, batch *models.CascadeBatch) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if batch.Action != nil {
			if err := tx.Create(batch.Action).Error; err != nil {
				return fmt.Errorf("insert action %s: %w", batch.Action.RefKey, err)
			}
		}
		if len(batch.Grants) > 0 {
			if err := tx.Create(&batch.Grants).Error; err != nil {
				return fmt.Errorf("insert grants: %w", err)
			}
		}
		if err := upsertStreaks(tx, batch.Streaks); err != nil {
			return err
		}
		if batch.Edge != nil {
			if err := tx.Create(batch.Edge).Error; err != nil {
				return fmt.Errorf("insert referral edge: %w", err)
			}
		}
		return insertAwards(tx, batch.Awards)
	})
}

// CommitAwards persists awards made outside an action cascade (rank epochs,
// flags).
func (db *GormDB) CommitAwards(ctx context.Context, awards []models.BadgeAward) error {
	return insertAwards(db.db.WithContext(ctx), awards)
}

func upsertStreaks(tx *gorm.DB, streaks []models.StreakState) error {
	if len(streaks) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "last_day", "milestones", "updated_at"}),
	}).Create(&streaks).Error
	if err != nil {
		return fmt.Errorf("upsert streaks: %w", err)
	}
	return nil
}

func insertAwards(tx *gorm.DB, awards []models.BadgeAward) error {
	if len(awards) == 0 {
		return nil
	}
	// award is a set insert
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&awards).Error
	if err != nil {
		return fmt.Errorf("insert badge awards: %w", err)
	}
	return nil
}

// ============================================================================
// Log Operations
// ============================================================================

// LoadCanonicalActions returns up to limit canonical actions with seq > afterSeq
// in seq order. A limit of zero or less returns all of them.
func (db *GormDB) LoadCanonicalActions(ctx context.Context, afterSeq uint64, limit int) ([]models.Action, error) {
	var actions []models.Action
	q := db.db.WithContext(ctx).
		Where("invalidated_by = ? AND seq > ?", "", afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}

// CanonicalRefKeys returns the ref key of every canonical action.
func (db *GormDB) CanonicalRefKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := db.db.WithContext(ctx).
		Model(&models.Action{}).
		Where("invalidated_by = ?", "").
		Pluck("ref_key", &keys).Error
	return keys, err
}

// CanonicalActionsFrom returns canonical actions with block >= fork.
func (db *GormDB) CanonicalActionsFrom(ctx context.Context, fork uint64) ([]models.Action, error) {
	var actions []models.Action
	err := db.db.WithContext(ctx).
		Where("invalidated_by = ? AND block >= ?", "", fork).
		Order("seq ASC").
		Find(&actions).Error
	return actions, err
}

// InvalidatedBy returns the actions a reorg job invalidated.
func (db *GormDB) InvalidatedBy(ctx context.Context, jobID string) ([]models.Action, error) {
	var actions []models.Action
	err := db.db.WithContext(ctx).
		Where("invalidated_by = ?", jobID).
		Order("seq ASC").
		Find(&actions).Error
	return actions, err
}

// MaxSeq is the highest seq ever assigned, canonical or not.
func (db *GormDB) MaxSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	row := db.db.WithContext(ctx).Model(&models.Action{}).Select("COALESCE(MAX(seq), 0)").Row()
	if err := row.Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// BeginReorg marks every canonical action at or past the fork as invalidated
// by job, appends the replacement actions and saves the job, in one tx.
func (db *GormDB) BeginReorg(ctx context.Context, job *models.ReorgJob, replacements []models.Action) (int64, error) {
	var invalidated int64
	err := db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Action{}).
			Where("invalidated_by = ? AND block >= ?", "", job.ForkBlock).
			Update("invalidated_by", job.ID)
		if res.Error != nil {
			return fmt.Errorf("invalidate actions: %w", res.Error)
		}
		invalidated = res.RowsAffected
		if len(replacements) > 0 {
			if err := tx.Create(&replacements).Error; err != nil {
				return fmt.Errorf("insert replacement actions: %w", err)
			}
		}
		job.Invalidated = int(invalidated)
		return tx.Save(job).Error
	})
	return invalidated, err
}

// ============================================================================
// Ledger and Projection Tables
// ============================================================================

// LoadGrants returns the whole grant log in append order.
func (db *GormDB) LoadGrants(ctx context.Context) ([]models.Grant, error) {
	var grants []models.Grant
	err := db.db.WithContext(ctx).Order("row_id ASC").Find(&grants).Error
	return grants, err
}

// LoadStreaks returns every persisted streak.
func (db *GormDB) LoadStreaks(ctx context.Context) ([]models.StreakState, error) {
	var streaks []models.StreakState
	err := db.db.WithContext(ctx).Order("actor ASC").Find(&streaks).Error
	return streaks, err
}

// LoadEdges returns the live referral edges.
func (db *GormDB) LoadEdges(ctx context.Context) ([]models.ReferralEdge, error) {
	var edges []models.ReferralEdge
	err := db.db.WithContext(ctx).
		Where("invalidated_by = ?", "").
		Order("referee ASC").
		Find(&edges).Error
	return edges, err
}

// LoadAwards returns the unrevoked badge awards.
func (db *GormDB) LoadAwards(ctx context.Context) ([]models.BadgeAward, error) {
	var awards []models.BadgeAward
	err := db.db.WithContext(ctx).
		Where("revoked_by = ?", "").
		Order("actor ASC, badge_type ASC").
		Find(&awards).Error
	return awards, err
}

// ============================================================================
// Flags
// ============================================================================

// SaveFlag records a flag once. The first setAt wins; the stored row is
// returned either way.
func (db *GormDB) SaveFlag(ctx context.Context, flag *models.ActorFlag) (*models.ActorFlag, bool, error) {
	res := db.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(flag)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return flag, true, nil
	}
	var existing models.ActorFlag
	err := db.db.WithContext(ctx).
		Where("actor = ? AND flag = ?", flag.Actor, flag.Flag).
		First(&existing).Error
	if err != nil {
		return nil, false, notFound(err)
	}
	return &existing, false, nil
}

// LoadFlags returns every flag ordered by setAt.
func (db *GormDB) LoadFlags(ctx context.Context) ([]models.ActorFlag, error) {
	var flags []models.ActorFlag
	err := db.db.WithContext(ctx).Order("set_at ASC, id ASC").Find(&flags).Error
	return flags, err
}

// ============================================================================
// Reorg Jobs
// ============================================================================

// SaveReorgJob inserts or replaces a job.
func (db *GormDB) SaveReorgJob(ctx context.Context, job *models.ReorgJob) error {
	return db.db.WithContext(ctx).Save(job).Error
}

// GetReorgJob retrieves a job by id.
func (db *GormDB) GetReorgJob(ctx context.Context, id string) (*models.ReorgJob, error) {
	var job models.ReorgJob
	if err := db.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// ActiveReorgJobs returns jobs that have not reached a terminal status.
func (db *GormDB) ActiveReorgJobs(ctx context.Context) ([]models.ReorgJob, error) {
	var jobs []models.ReorgJob
	err := db.db.WithContext(ctx).
		Where("status NOT IN ?", []models.ReorgStatus{models.ReorgCompleted, models.ReorgFailed}).
		Order("started_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// CommitReorg applies a reorg's corrections and completes the job in one tx.
func (db *GormDB) CommitReorg(ctx context.Context, batch *models.ReorgBatch) error {
	return db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(batch.Corrections) > 0 {
			if err := tx.Create(&batch.Corrections).Error; err != nil {
				return fmt.Errorf("insert corrections: %w", err)
			}
		}
		if err := upsertStreaks(tx, batch.Streaks); err != nil {
			return err
		}
		if len(batch.InvalidEdges) > 0 {
			err := tx.Model(&models.ReferralEdge{}).
				Where("invalidated_by = ? AND referee IN ?", "", batch.InvalidEdges).
				Update("invalidated_by", batch.Job.ID).Error
			if err != nil {
				return fmt.Errorf("invalidate referral edges: %w", err)
			}
		}
		if len(batch.NewEdges) > 0 {
			if err := tx.Create(&batch.NewEdges).Error; err != nil {
				return fmt.Errorf("insert referral edges: %w", err)
			}
		}
		for _, a := range batch.Revoke {
			err := tx.Model(&models.BadgeAward{}).
				Where("actor = ? AND badge_type = ? AND revoked_by = ?", a.Actor, a.BadgeType, "").
				Update("revoked_by", batch.Job.ID).Error
			if err != nil {
				return fmt.Errorf("revoke badge %s for %s: %w", a.BadgeType, a.Actor, err)
			}
		}
		if err := insertAwards(tx, batch.Award); err != nil {
			return err
		}
		return tx.Save(batch.Job).Error
	})
}

// ============================================================================
// Leaderboard Snapshots
// ============================================================================

// SaveLeaderboardSnapshots appends audit snapshots.
func (db *GormDB) SaveLeaderboardSnapshots(ctx context.Context, snaps []models.LeaderboardSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	return db.db.WithContext(ctx).Create(&snaps).Error
}

// LatestLeaderboardSnapshot returns the newest snapshot of a bucket.
func (db *GormDB) LatestLeaderboardSnapshot(ctx context.Context, window, bucket string) (*models.LeaderboardSnapshot, error) {
	var snap models.LeaderboardSnapshot
	err := db.db.WithContext(ctx).
		Where("board_window = ? AND bucket = ?", window, bucket).
		Order("id DESC").
		First(&snap).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &snap, nil
}
