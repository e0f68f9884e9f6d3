package domain

// Frequency is a commitment's check-in cadence.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyOneTime Frequency = "one_time"
)

// Valid reports whether f is a known cadence.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyOneTime:
		return true
	}
	return false
}

// CommitmentStatus is a commitment's lifecycle state.
type CommitmentStatus string

const (
	CommitmentPendingReferee CommitmentStatus = "pending_referee"
	CommitmentActive         CommitmentStatus = "active"
	CommitmentCompleted      CommitmentStatus = "completed"
	CommitmentFailed         CommitmentStatus = "failed"
	CommitmentCancelled      CommitmentStatus = "cancelled"
)

// CheckInStatus is a check-in outcome: the owner's self-report
// (success/failure) or the authoritative final status, which may also be
// pending while a referee decision is outstanding.
type CheckInStatus string

const (
	CheckInPending CheckInStatus = "pending"
	CheckInSuccess CheckInStatus = "success"
	CheckInFailure CheckInStatus = "failure"
)

// RefereeStatus tracks the referee workflow on a check-in.
type RefereeStatus string

const (
	RefereePending  RefereeStatus = "pending"
	RefereeVerified RefereeStatus = "verified"
	RefereeDisputed RefereeStatus = "disputed"
)

type Commitment struct {
	ID                    string           `json:"id"`
	UserID                string           `json:"user_id"`
	RefereeID             *string          `json:"referee_id,omitempty"`
	Title                 string           `json:"title"`
	Description           string           `json:"description,omitempty"`
	Category              string           `json:"category"`
	StartDate             string           `json:"start_date" format:"date"`
	EndDate               string           `json:"end_date" format:"date"`
	CheckInFrequency      Frequency        `json:"check_in_frequency" enum:"daily,weekly,one_time"`
	StakesAmount          int              `json:"stakes_amount"`
	StakesCurrency        string           `json:"stakes_currency"`
	StakesDestination     *string          `json:"stakes_destination,omitempty"`
	CharityID             *string          `json:"charity_id,omitempty"`
	Status                CommitmentStatus `json:"status" enum:"pending_referee,active,completed,failed,cancelled"`
	RefereeAcceptedAt     *string          `json:"referee_accepted_at,omitempty" format:"date-time"`
	TotalCheckInsRequired int              `json:"total_check_ins_required"`
	SuccessfulCheckIns    int              `json:"successful_check_ins"`
	FailedCheckIns        int              `json:"failed_check_ins"`
	IsPublic              bool             `json:"is_public"`
	CreatedAt             string           `json:"created_at" format:"date-time"`
	UpdatedAt             string           `json:"updated_at" format:"date-time"`
}

type CheckIn struct {
	ID                 string        `json:"id"`
	CommitmentID       string        `json:"commitment_id"`
	UserID             string        `json:"user_id"`
	CheckInDate        string        `json:"check_in_date" format:"date"`
	Note               string        `json:"note,omitempty"`
	ProofPhotoURL      string        `json:"proof_photo_url,omitempty"`
	UserReportedStatus CheckInStatus `json:"user_reported_status" enum:"success,failure"`
	RefereeVerified    bool          `json:"referee_verified"`
	RefereeStatus      RefereeStatus `json:"referee_status" enum:"pending,verified,disputed"`
	RefereeNote        *string       `json:"referee_note,omitempty"`
	VerifiedAt         *string       `json:"verified_at,omitempty" format:"date-time"`
	FinalStatus        CheckInStatus `json:"final_status" enum:"pending,success,failure"`
	CreatedAt          string        `json:"created_at" format:"date-time"`
	UpdatedAt          string        `json:"updated_at" format:"date-time"`
}

// PendingCheckIn pairs a referee-pending check-in with its commitment.
type PendingCheckIn struct {
	CheckIn    CheckIn    `json:"check_in"`
	Commitment Commitment `json:"commitment"`
}

// Activity is one feed record, written in the same transaction as the
// state change it describes.
type Activity struct {
	ID            int64  `json:"id"`
	UserID        string `json:"user_id"`
	ActivityType  string `json:"activity_type"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id,omitempty"`
	Metadata      string `json:"metadata_json"`
	IsPublic      bool   `json:"is_public"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}

type User struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

// UserStats are aggregate rollups maintained outside the check-in engine;
// the engine only reads them.
type UserStats struct {
	UserID          string `json:"user_id"`
	CurrentStreak   int    `json:"current_streak"`
	LongestStreak   int    `json:"longest_streak"`
	CommitmentsWon  int    `json:"commitments_won"`
	CommitmentsLost int    `json:"commitments_lost"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DashboardCommitment decorates an active commitment with derived
// progress fields.
type DashboardCommitment struct {
	Commitment
	CheckInDueToday bool `json:"check_in_due_today"`
	CompletedCount  int  `json:"completed_count"`
	ProgressPercent int  `json:"progress_percent"`
	DaysRemaining   int  `json:"days_remaining"`
}

type DashboardProfile struct {
	Username    string  `json:"username,omitempty"`
	DisplayName *string `json:"display_name,omitempty"`
}

type DashboardStats struct {
	CurrentStreak   int `json:"current_streak"`
	LongestStreak   int `json:"longest_streak"`
	CommitmentsWon  int `json:"commitments_won"`
	CommitmentsLost int `json:"commitments_lost"`
}

type PendingActions struct {
	CheckInsDueToday           int `json:"check_ins_due_today"`
	RefereeVerificationsNeeded int `json:"referee_verifications_needed"`
	ChallengeInvites           int `json:"challenge_invites"`
}

type Dashboard struct {
	Profile           DashboardProfile      `json:"profile"`
	Stats             DashboardStats        `json:"stats"`
	ActiveCommitments []DashboardCommitment `json:"active_commitments"`
	PendingActions    PendingActions        `json:"pending_actions"`
}

// FeedItem is an activity joined with its author's public summary.
type FeedItem struct {
	Activity
	User User `json:"user"`
}
