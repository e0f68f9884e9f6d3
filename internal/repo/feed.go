package repo

import (
	"context"
	"database/sql"

	"stakeline/internal/domain"
)

const activityColumns = `id,user_id,activity_type,reference_type,reference_id,metadata_json,is_public,created_at`

func scanActivity(scan func(dest ...any) error) (domain.Activity, error) {
	var a domain.Activity
	var referenceID sql.NullString
	err := scan(&a.ID, &a.UserID, &a.ActivityType, &a.ReferenceType, &referenceID, &a.Metadata, &a.IsPublic, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if referenceID.Valid {
		a.ReferenceID = referenceID.String
	}
	return a, nil
}

// ListFeed returns the user's own activity plus other users' public
// activity, newest first.
func (r Repo) ListFeed(ctx context.Context, userID string, limit int) ([]domain.FeedItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT a.id,a.user_id,a.activity_type,a.reference_type,a.reference_id,a.metadata_json,a.is_public,a.created_at,
u.id,u.username,u.display_name,u.avatar_url,u.created_at
FROM activities a JOIN users u ON u.id = a.user_id
WHERE a.user_id=? OR a.is_public=1 ORDER BY a.id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFeedItems(rows)
}

// ListPublicFeed returns public activity only, newest first.
func (r Repo) ListPublicFeed(ctx context.Context, limit int) ([]domain.FeedItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT a.id,a.user_id,a.activity_type,a.reference_type,a.reference_id,a.metadata_json,a.is_public,a.created_at,
u.id,u.username,u.display_name,u.avatar_url,u.created_at
FROM activities a JOIN users u ON u.id = a.user_id
WHERE a.is_public=1 ORDER BY a.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFeedItems(rows)
}

func collectFeedItems(rows *sql.Rows) ([]domain.FeedItem, error) {
	var res []domain.FeedItem
	for rows.Next() {
		var item domain.FeedItem
		var referenceID, displayName, avatarURL sql.NullString
		err := rows.Scan(&item.ID, &item.Activity.UserID, &item.ActivityType, &item.ReferenceType, &referenceID,
			&item.Metadata, &item.IsPublic, &item.Activity.CreatedAt,
			&item.User.ID, &item.User.Username, &displayName, &avatarURL, &item.User.CreatedAt)
		if err != nil {
			return nil, err
		}
		if referenceID.Valid {
			item.ReferenceID = referenceID.String
		}
		if displayName.Valid {
			item.User.DisplayName = &displayName.String
		}
		if avatarURL.Valid {
			item.User.AvatarURL = &avatarURL.String
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

// ActivitiesAfter returns activities with id greater than cursor, oldest
// first. Used by the webhook dispatcher to tail the feed.
func (r Repo) ActivitiesAfter(ctx context.Context, cursor int64, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id > ? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestActivityID returns the highest activity id, or zero when the
// feed is empty.
func (r Repo) LatestActivityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT max(id) FROM activities`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}
