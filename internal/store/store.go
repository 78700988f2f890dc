package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/lordfarm/internal/engine"
)

var ErrPlayerNotFound = errors.New("player not found")
var ErrNameTaken = errors.New("display name already taken")

const uniqueViolation = "23505"

type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres through gorm's pgx-backed driver.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(log), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, log), nil
}

func New(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSnapshot replaces everything stored for the session with snap.
func (s *Store) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	sess, assigns, queue := toRows(snap)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&sess).Error; err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		if err := tx.Where("session_id = ?", sess.ID).Delete(&assignmentRow{}).Error; err != nil {
			return fmt.Errorf("clear assignments: %w", err)
		}
		if len(assigns) > 0 {
			if err := tx.Create(&assigns).Error; err != nil {
				return fmt.Errorf("insert assignments: %w", err)
			}
		}
		if err := tx.Where("session_id = ?", sess.ID).Delete(&queueRow{}).Error; err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
		if len(queue) > 0 {
			if err := tx.Create(&queue).Error; err != nil {
				return fmt.Errorf("insert queue: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// RecordWarning appends to the warning history and bumps the player's
// lifetime total when they have a profile.
func (s *Store) RecordWarning(ctx context.Context, w engine.WarningRecord) error {
	row := warningRow{
		SessionID: string(w.Session),
		PlayerID:  string(w.Player),
		Reason:    w.Reason,
		Issuer:    w.Issuer,
		CreatedAt: w.At,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		return tx.Model(&playerRow{}).
			Where("id = ?", row.PlayerID).
			UpdateColumn("warns_total", gorm.Expr("warns_total + 1")).Error
	})
	if err != nil {
		return fmt.Errorf("record warning for %s: %w", w.Player, err)
	}
	return nil
}

// LoadActive returns every session that has not ended, oldest first.
func (s *Store) LoadActive(ctx context.Context) ([]engine.Snapshot, error) {
	db := s.db.WithContext(ctx)

	var sessions []sessionRow
	if err := db.Where("phase <> ?", string(engine.PhaseEnded)).Order("created_at").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}

	var assigns []assignmentRow
	if err := db.Where("session_id IN ?", ids).Order("session_id, team, slot").Find(&assigns).Error; err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	var queue []queueRow
	if err := db.Where("session_id IN ?", ids).Order("session_id, position").Find(&queue).Error; err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	var warns []warningRow
	if err := db.Where("session_id IN ?", ids).Order("created_at, id").Find(&warns).Error; err != nil {
		return nil, fmt.Errorf("load warnings: %w", err)
	}

	assignsBy := make(map[string][]assignmentRow)
	for _, a := range assigns {
		assignsBy[a.SessionID] = append(assignsBy[a.SessionID], a)
	}
	queueBy := make(map[string][]queueRow)
	for _, q := range queue {
		queueBy[q.SessionID] = append(queueBy[q.SessionID], q)
	}
	warnsBy := make(map[string][]warningRow)
	for _, w := range warns {
		warnsBy[w.SessionID] = append(warnsBy[w.SessionID], w)
	}

	out := make([]engine.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, fromRows(sess, assignsBy[sess.ID], queueBy[sess.ID], warnsBy[sess.ID]))
	}
	return out, nil
}

// UpsertPlayer creates or updates a profile. The lifetime warning total is
// never overwritten.
func (s *Store) UpsertPlayer(ctx context.Context, p Player) (Player, error) {
	if p.ID == "" {
		return Player{}, errors.New("player id is required")
	}
	if p.DisplayName == "" {
		p.DisplayName = string(p.ID)
	}
	row := toPlayerRow(p)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "roles", "characters", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return Player{}, classify(err)
	}
	return s.GetPlayer(ctx, p.ID)
}

func (s *Store) GetPlayer(ctx context.Context, id engine.PlayerID) (Player, error) {
	var row playerRow
	if err := s.db.WithContext(ctx).Where("id = ?", string(id)).Take(&row).Error; err != nil {
		return Player{}, classify(err)
	}
	return row.player(), nil
}

// DeletePlayer removes a profile. Warning history stays with the sessions it
// was issued in.
func (s *Store) DeletePlayer(ctx context.Context, id engine.PlayerID) error {
	res := s.db.WithContext(ctx).Where("id = ?", string(id)).Delete(&playerRow{})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// Deliver persists one accepted session change. It is the lobby sink.
func (s *Store) Deliver(ctx context.Context, id engine.SessionID, snap engine.Snapshot, intents []engine.Intent) error {
	var err error
	for _, in := range intents {
		if in.Type != engine.IntentIssueWarning {
			continue
		}
		err = multierr.Append(err, s.RecordWarning(ctx, engine.WarningRecord{
			Player:  in.Player,
			Session: id,
			Reason:  in.Reason,
			Issuer:  in.Issuer,
			At:      in.At,
		}))
	}
	return multierr.Append(err, s.SaveSnapshot(ctx, snap))
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrPlayerNotFound
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return fmt.Errorf("%w: %s", ErrNameTaken, pgErr.Detail)
	default:
		return err
	}
}
