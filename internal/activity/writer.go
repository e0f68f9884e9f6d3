package activity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends feed records inside the caller's transaction so an
// activity is never visible without the state change it describes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Metadata map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, activityType, referenceType, referenceID, userID string, isPublic bool, metadata Metadata) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if metadata == nil {
		metadata = Metadata{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO activities(user_id,activity_type,reference_type,reference_id,metadata_json,is_public,created_at) VALUES (?,?,?,?,?,?,?)`,
		userID, activityType, referenceType, nullable(referenceID), string(data), isPublic, ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
