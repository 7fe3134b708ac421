package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// GormStore implements Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the database and runs auto-migrations.
// For sqlite, dsn is a file path; busy timeout and WAL mode are appended and the
// pool is limited to a single connection so writers serialize inside the driver.
func Open(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", DriverSQLite:
		if dsn == "" {
			dsn = "wicara.db"
		}
		dialector = sqlite.Open(sqliteDSN(dsn))
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("open db: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("open db: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "" || driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&userRow{}, &messageRow{}, &groupRow{}, &groupMemberRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func identifierColumn(channel Channel) (string, error) {
	switch channel {
	case ChannelEmail:
		return "email", nil
	case ChannelPhone:
		return "phone", nil
	case ChannelIP:
		return "ip_address", nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
}

// FindUserByIdentifier looks up a user by its login key.
func (s *GormStore) FindUserByIdentifier(ctx context.Context, channel Channel, value string) (User, error) {
	col, err := identifierColumn(channel)
	if err != nil {
		return User{}, err
	}
	var row userRow
	if err := s.db.WithContext(ctx).Where(col+" = ?", value).Order("id ASC").First(&row).Error; err != nil {
		return User{}, translate(err)
	}
	return userFromRow(row), nil
}

// CreateUser inserts a new user. A duplicate email or phone yields ErrConflict.
func (s *GormStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.Theme == "" {
		u.Theme = DefaultTheme
	}
	if u.Language == "" {
		u.Language = DefaultLanguage
	}
	row := userToRow(u)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return User{}, translate(err)
	}
	return userFromRow(row), nil
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return User{}, translate(err)
	}
	return userFromRow(row), nil
}

// ListUsers returns all users ordered by name.
func (s *GormStore) ListUsers(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx)
}

// ListUsersWithLocation returns users that have shared a location.
func (s *GormStore) ListUsersWithLocation(ctx context.Context) ([]User, error) {
	return s.listUsers(ctx, "latitude IS NOT NULL AND longitude IS NOT NULL")
}

func (s *GormStore) listUsers(ctx context.Context, conds ...any) ([]User, error) {
	var rows []userRow
	tx := s.db.WithContext(ctx).Order("name ASC, id ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]User, 0, len(rows))
	for _, r := range rows {
		res = append(res, userFromRow(r))
	}
	return res, nil
}

// SaveUser registers or updates a user's profile fields.
func (s *GormStore) SaveUser(ctx context.Context, u User) error {
	if u.Theme == "" {
		u.Theme = DefaultTheme
	}
	if u.Language == "" {
		u.Language = DefaultLanguage
	}
	row := userToRow(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "email", "avatar"}),
	}).Create(&row).Error
	return translate(err)
}

// UpdateUserNetworkAddress refreshes the address recorded at login.
func (s *GormStore) UpdateUserNetworkAddress(ctx context.Context, id, addr string) error {
	return s.updateUser(ctx, id, map[string]any{"ip_address": addr})
}

// UpdateLastSeen stamps the user's last-seen time.
func (s *GormStore) UpdateLastSeen(ctx context.Context, id string, ts time.Time) error {
	return s.updateUser(ctx, id, map[string]any{"last_seen": ts.UTC()})
}

// UpdatePresence sets status and last-seen in one write.
func (s *GormStore) UpdatePresence(ctx context.Context, id, status string, ts time.Time) error {
	return s.updateUser(ctx, id, map[string]any{"status": status, "last_seen": ts.UTC()})
}

// UpdateLocation records the user's geolocation.
func (s *GormStore) UpdateLocation(ctx context.Context, id string, lat, lng float64) error {
	return s.updateUser(ctx, id, map[string]any{"latitude": lat, "longitude": lng})
}

// UpdatePreferences sets theme and language; empty values are left unchanged.
func (s *GormStore) UpdatePreferences(ctx context.Context, id, theme, language string) error {
	fields := map[string]any{}
	if theme != "" {
		fields["theme"] = theme
	}
	if language != "" {
		fields["language"] = language
	}
	if len(fields) == 0 {
		_, err := s.GetUser(ctx, id)
		return err
	}
	return s.updateUser(ctx, id, fields)
}

func (s *GormStore) updateUser(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage persists a message after checking the sender exists.
func (s *GormStore) InsertMessage(ctx context.Context, m Message) (Message, error) {
	if !m.validDestination() {
		return Message{}, ErrInvalidDestination
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	row := messageToRow(m)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userRow{}).Where("id = ?", m.SenderID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("%w: %q", ErrUnknownSender, m.SenderID)
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return Message{}, translate(err)
	}
	return messageFromRow(row), nil
}

// ListMessagesBetween returns the direct messages exchanged by two users in
// either direction, oldest first.
func (s *GormStore) ListMessagesBetween(ctx context.Context, userA, userB string) ([]Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return messagesFromRows(rows), nil
}

// ListGroupMessages returns a group's messages, oldest first.
func (s *GormStore) ListGroupMessages(ctx context.Context, groupID string) ([]Message, error) {
	var rows []messageRow
	if err := s.db.WithContext(ctx).Where("group_id = ?", groupID).Order("timestamp ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return messagesFromRows(rows), nil
}

// MarkMessageRead sets the read flag.
func (s *GormStore) MarkMessageRead(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&messageRow{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateGroup stores a group together with its initial members.
func (s *GormStore) CreateGroup(ctx context.Context, g Group, members []string) (Group, error) {
	row := groupRow{ID: g.ID, Name: g.Name, Avatar: g.Avatar}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, userID := range members {
			if err := addMember(tx, row.ID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Group{}, translate(err)
	}
	return Group{ID: row.ID, Name: row.Name, Avatar: row.Avatar}, nil
}

// GetGroup returns a group by ID.
func (s *GormStore) GetGroup(ctx context.Context, id string) (Group, error) {
	var row groupRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return Group{}, translate(err)
	}
	return Group{ID: row.ID, Name: row.Name, Avatar: row.Avatar}, nil
}

// AddGroupMember adds a user to a group. Adding an existing member is a no-op.
func (s *GormStore) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	return addMember(s.db.WithContext(ctx), groupID, userID)
}

func addMember(tx *gorm.DB, groupID, userID string) error {
	row := groupMemberRow{GroupID: groupID, UserID: userID}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// ListGroupMembers returns the user IDs currently in a group.
func (s *GormStore) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&groupMemberRow{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var _ Store = (*GormStore)(nil)
