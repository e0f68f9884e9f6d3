package repo

import (
	"context"
	"database/sql"

	"stakeline/internal/domain"
)

func scanUser(scan func(dest ...any) error) (domain.User, error) {
	var u domain.User
	var displayName, avatarURL sql.NullString
	err := scan(&u.ID, &u.Username, &displayName, &avatarURL, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	if displayName.Valid {
		u.DisplayName = &displayName.String
	}
	if avatarURL.Valid {
		u.AvatarURL = &avatarURL.String
	}
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,username,display_name,avatar_url,created_at FROM users WHERE id=?`, id)
	return scanUser(row.Scan)
}

// SearchUsers matches usernames and display names by substring. Queries
// shorter than two characters return nothing rather than the whole table.
func (r Repo) SearchUsers(ctx context.Context, query string, limit int) ([]domain.User, error) {
	if len(query) < 2 {
		return nil, nil
	}
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	pattern := "%" + query + "%"
	rows, err := r.DB.QueryContext(ctx, `SELECT id,username,display_name,avatar_url,created_at FROM users
WHERE username LIKE ? OR display_name LIKE ? ORDER BY username ASC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// EnsureUser creates the user row if missing, with the username defaulting
// to the id. Keeps local workspaces usable without a signup flow.
func (r Repo) EnsureUser(ctx context.Context, id, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO users(id,username,created_at) VALUES (?,?,?)`, id, id, createdAt)
	return err
}

// GetUserStats returns the user's rollups, zero-valued when no stats row
// exists yet.
func (r Repo) GetUserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	var s domain.UserStats
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,current_streak,longest_streak,commitments_won,commitments_lost,updated_at FROM user_stats WHERE user_id=?`,
		userID).Scan(&s.UserID, &s.CurrentStreak, &s.LongestStreak, &s.CommitmentsWon, &s.CommitmentsLost, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.UserStats{UserID: userID}, nil
	}
	return s, err
}
