package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/store"
)

// Record is the Postgres row for one leaderboard entry.
type Record struct {
	Key              string    `gorm:"primaryKey;size:64"`
	Board            string    `gorm:"index;not null"`
	Score            int       `gorm:"not null"`
	MatchedQuestions int       `gorm:"not null"`
	TotalQuestions   int       `gorm:"not null"`
	RoomPlayers      []string  `gorm:"serializer:json"`
	RoomCode         string    `gorm:"index;size:16"`
	Email            string    `gorm:"index"`
	PlayedAt         time.Time `gorm:"not null"`
	CreatedAt        time.Time
}

func (Record) TableName() string { return "leaderboard_entries" }

func toRecord(t game.RoomType, e game.LeaderboardEntry) Record {
	return Record{
		Key:              e.Key,
		Board:            string(t),
		Score:            e.Score,
		MatchedQuestions: e.MatchedQuestions,
		TotalQuestions:   e.TotalQuestions,
		RoomPlayers:      e.RoomPlayers,
		RoomCode:         e.RoomCode,
		Email:            e.SubmitterEmail,
		PlayedAt:         e.Timestamp,
	}
}

func (r Record) entry() game.LeaderboardEntry {
	return game.LeaderboardEntry{
		Key:              r.Key,
		Score:            r.Score,
		MatchedQuestions: r.MatchedQuestions,
		TotalQuestions:   r.TotalQuestions,
		RoomPlayers:      r.RoomPlayers,
		RoomCode:         r.RoomCode,
		Timestamp:        r.PlayedAt,
		SubmitterEmail:   r.Email,
	}
}

// SQLRepository mirrors boards into Postgres. Appending an entry whose key
// already exists is a no-op.
type SQLRepository struct {
	db *gorm.DB
}

func NewSQLRepository(db *gorm.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// OpenPostgres connects with a few retries and migrates the entry table.
func OpenPostgres(dsn string, logger zerolog.Logger) (*gorm.DB, error) {
	const maxRetries = 3
	const retryInterval = 2 * time.Second
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			if err := db.AutoMigrate(&Record{}); err != nil {
				return nil, fmt.Errorf("migrate leaderboard: %w", err)
			}
			return db, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("retry", i).Msg("postgres connect failed")
		if i < maxRetries {
			time.Sleep(retryInterval)
		}
	}
	return nil, fmt.Errorf("%w: postgres: %v", store.ErrUnavailable, lastErr)
}

func (r *SQLRepository) Append(ctx context.Context, t game.RoomType, e game.LeaderboardEntry) (string, error) {
	if e.Key == "" {
		e.Key = store.NewKey()
	}
	rec := toRecord(t, e)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return e.Key, nil
}

func (r *SQLRepository) List(ctx context.Context, t game.RoomType) ([]game.LeaderboardEntry, error) {
	var recs []Record
	err := r.db.WithContext(ctx).
		Where("board = ?", string(t)).
		Order("score DESC, played_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	out := make([]game.LeaderboardEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.entry())
	}
	return out, nil
}
