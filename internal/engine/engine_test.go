package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stakeline/internal/config"
	"stakeline/internal/db"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/migrate"
	"stakeline/internal/repo"
	"stakeline/internal/schedule"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	// 2024-01-03 is a Wednesday.
	eng.Now = func() time.Time { return time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createCommitment(t *testing.T, env testEnv, opts engine.CommitmentCreateOptions) domain.Commitment {
	t.Helper()
	if opts.Title == "" {
		opts.Title = "Run every day"
	}
	if opts.Category == "" {
		opts.Category = "fitness"
	}
	if opts.StartDate == "" {
		opts.StartDate = "2024-01-01"
	}
	if opts.EndDate == "" {
		opts.EndDate = "2024-01-07"
	}
	if opts.CheckInFrequency == "" {
		opts.CheckInFrequency = domain.FrequencyDaily
	}
	if opts.OwnerID == "" {
		opts.OwnerID = "alice"
	}
	c, err := env.Engine.CreateCommitment(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create commitment: %v", err)
	}
	return c
}

func TestCreateCommitmentComputesRequiredCheckIns(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		freq     domain.Frequency
		end      string
		required int
	}{
		{domain.FrequencyDaily, "2024-01-07", 7},
		{domain.FrequencyWeekly, "2024-01-07", 1},
		{domain.FrequencyWeekly, "2024-01-15", 3},
		{domain.FrequencyOneTime, "2024-03-01", 1},
	}
	for _, tc := range cases {
		c := createCommitment(t, env, engine.CommitmentCreateOptions{
			EndDate: tc.end, CheckInFrequency: tc.freq,
		})
		if c.TotalCheckInsRequired != tc.required {
			t.Errorf("%s to %s: required = %d, want %d", tc.freq, tc.end, c.TotalCheckInsRequired, tc.required)
		}
		if c.Status != domain.CommitmentActive {
			t.Errorf("stake-free commitment status = %s, want active", c.Status)
		}
	}
}

func TestCreateCommitmentStakesRequireReferee(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "Ship it", Category: "productivity",
		StartDate: "2024-01-01", EndDate: "2024-01-07",
		CheckInFrequency: domain.FrequencyDaily, StakesAmount: 5000,
	})
	if !errors.Is(err, engine.ErrRefereeRequired) {
		t.Fatalf("err = %v, want ErrRefereeRequired", err)
	}

	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 5000, RefereeID: "bob",
	})
	if c.Status != domain.CommitmentPendingReferee {
		t.Fatalf("staked commitment status = %s, want pending_referee", c.Status)
	}
	if c.StakesCurrency != "USD" {
		t.Fatalf("default currency = %s, want USD", c.StakesCurrency)
	}
}

func TestCreateCommitmentValidation(t *testing.T) {
	env := newTestEnv(t)
	base := engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "t", Category: "fitness",
		StartDate: "2024-01-01", EndDate: "2024-01-07",
		CheckInFrequency: domain.FrequencyDaily,
	}

	invalidRange := base
	invalidRange.EndDate = "2023-12-31"
	if _, err := env.Engine.CreateCommitment(env.Ctx, invalidRange); !errors.Is(err, schedule.ErrInvalidRange) {
		t.Errorf("end before start: err = %v, want ErrInvalidRange", err)
	}

	badDate := base
	badDate.StartDate = "2024-02-30"
	if _, err := env.Engine.CreateCommitment(env.Ctx, badDate); !errors.Is(err, schedule.ErrInvalidDate) {
		t.Errorf("bad date: err = %v, want ErrInvalidDate", err)
	}

	badFreq := base
	badFreq.CheckInFrequency = "hourly"
	if _, err := env.Engine.CreateCommitment(env.Ctx, badFreq); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("bad frequency: err = %v, want ErrInvalidInput", err)
	}

	selfReferee := base
	selfReferee.StakesAmount = 100
	selfReferee.RefereeID = "alice"
	if _, err := env.Engine.CreateCommitment(env.Ctx, selfReferee); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("self referee: err = %v, want ErrInvalidInput", err)
	}

	badCategory := base
	badCategory.Category = "underwater-basket-weaving"
	if _, err := env.Engine.CreateCommitment(env.Ctx, badCategory); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("unknown category: err = %v, want ErrInvalidInput", err)
	}

	stakelessReferee := base
	stakelessReferee.RefereeID = "bob"
	if _, err := env.Engine.CreateCommitment(env.Ctx, stakelessReferee); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("referee without stakes: err = %v, want ErrInvalidInput", err)
	}
}

func TestCommitmentVisibility(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 1000, RefereeID: "bob",
	})

	if _, err := env.Engine.GetCommitment(env.Ctx, c.ID, "alice"); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := env.Engine.GetCommitment(env.Ctx, c.ID, "bob"); err != nil {
		t.Fatalf("referee read: %v", err)
	}
	if _, err := env.Engine.GetCommitment(env.Ctx, c.ID, "mallory"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("stranger read: err = %v, want ErrNotFound", err)
	}

	list, err := env.Engine.ListCommitments(env.Ctx, "bob")
	if err != nil || len(list) != 1 {
		t.Fatalf("referee list = %d items, err = %v, want 1", len(list), err)
	}
}

func TestSubmitCheckInAutoResolves(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{})

	ci, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-03",
		ReportedStatus: domain.CheckInSuccess, Note: "5k done",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ci.FinalStatus != domain.CheckInSuccess || !ci.RefereeVerified || ci.RefereeStatus != domain.RefereeVerified {
		t.Fatalf("auto-resolve: final=%s verified=%v refereeStatus=%s", ci.FinalStatus, ci.RefereeVerified, ci.RefereeStatus)
	}

	got, err := env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.SuccessfulCheckIns != 1 || got.FailedCheckIns != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", got.SuccessfulCheckIns, got.FailedCheckIns)
	}

	ci2, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-04",
		ReportedStatus: domain.CheckInFailure,
	})
	if err != nil {
		t.Fatalf("submit failure: %v", err)
	}
	if ci2.FinalStatus != domain.CheckInFailure {
		t.Fatalf("final = %s, want failure", ci2.FinalStatus)
	}
	got, _ = env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if got.SuccessfulCheckIns != 1 || got.FailedCheckIns != 1 {
		t.Fatalf("counters = %d/%d, want 1/1", got.SuccessfulCheckIns, got.FailedCheckIns)
	}
}

func TestSubmitCheckInOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{})
	for _, date := range []string{"2023-12-31", "2024-01-08"} {
		_, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
			OwnerID: "alice", CommitmentID: c.ID, CheckInDate: date,
			ReportedStatus: domain.CheckInSuccess,
		})
		if !errors.Is(err, engine.ErrOutOfRange) {
			t.Errorf("date %s: err = %v, want ErrOutOfRange", date, err)
		}
	}
}

func TestSubmitCheckInDuplicateDate(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{})
	submit := func(status domain.CheckInStatus) error {
		_, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
			OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-02",
			ReportedStatus: status,
		})
		return err
	}
	if err := submit(domain.CheckInSuccess); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := submit(domain.CheckInFailure); !errors.Is(err, repo.ErrDuplicateDate) {
		t.Fatalf("second submit: err = %v, want ErrDuplicateDate", err)
	}
	got, _ := env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if got.SuccessfulCheckIns+got.FailedCheckIns != 1 {
		t.Fatalf("counters moved on duplicate: %d/%d", got.SuccessfulCheckIns, got.FailedCheckIns)
	}
}

func TestSubmitCheckInOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 1000, RefereeID: "bob",
	})
	// The referee sees the commitment but has no submit surface.
	_, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "bob", CommitmentID: c.ID, CheckInDate: "2024-01-03",
		ReportedStatus: domain.CheckInSuccess,
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("referee submit: err = %v, want ErrNotFound", err)
	}
}

func TestStakedCheckInVerifyFlow(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})

	ci, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-03",
		ReportedStatus: domain.CheckInSuccess,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ci.FinalStatus != domain.CheckInPending || ci.RefereeStatus != domain.RefereePending || ci.RefereeVerified {
		t.Fatalf("staked submit not pending: %+v", ci)
	}
	got, _ := env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if got.SuccessfulCheckIns != 0 || got.FailedCheckIns != 0 {
		t.Fatalf("counters moved before resolution: %d/%d", got.SuccessfulCheckIns, got.FailedCheckIns)
	}

	queue, err := env.Engine.ListPendingForReferee(env.Ctx, "bob")
	if err != nil || len(queue) != 1 {
		t.Fatalf("pending queue = %d items, err = %v, want 1", len(queue), err)
	}
	if queue[0].CheckIn.ID != ci.ID || queue[0].Commitment.ID != c.ID {
		t.Fatalf("queue item mismatch")
	}

	resolved, err := env.Engine.VerifyCheckIn(env.Ctx, "bob", ci.ID, "saw the screenshot")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if resolved.FinalStatus != domain.CheckInSuccess || resolved.RefereeStatus != domain.RefereeVerified {
		t.Fatalf("verify result: final=%s refereeStatus=%s", resolved.FinalStatus, resolved.RefereeStatus)
	}
	if resolved.VerifiedAt == nil || resolved.RefereeNote == nil || *resolved.RefereeNote != "saw the screenshot" {
		t.Fatalf("verify metadata missing: %+v", resolved)
	}
	got, _ = env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if got.SuccessfulCheckIns != 1 || got.FailedCheckIns != 0 {
		t.Fatalf("counters after verify = %d/%d, want 1/0", got.SuccessfulCheckIns, got.FailedCheckIns)
	}

	if _, err := env.Engine.VerifyCheckIn(env.Ctx, "bob", ci.ID, ""); !errors.Is(err, repo.ErrAlreadyResolved) {
		t.Fatalf("second verify: err = %v, want ErrAlreadyResolved", err)
	}
	if _, err := env.Engine.DisputeCheckIn(env.Ctx, "bob", ci.ID, ""); !errors.Is(err, repo.ErrAlreadyResolved) {
		t.Fatalf("dispute after verify: err = %v, want ErrAlreadyResolved", err)
	}
	got, _ = env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if got.SuccessfulCheckIns != 1 || got.FailedCheckIns != 0 {
		t.Fatalf("counters moved after terminal resolution: %d/%d", got.SuccessfulCheckIns, got.FailedCheckIns)
	}
}

func TestDisputeForcesFailure(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})
	ci, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-03",
		ReportedStatus: domain.CheckInSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := env.Engine.DisputeCheckIn(env.Ctx, "bob", ci.ID, "no proof")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if resolved.FinalStatus != domain.CheckInFailure || resolved.RefereeStatus != domain.RefereeDisputed {
		t.Fatalf("dispute result: final=%s refereeStatus=%s", resolved.FinalStatus, resolved.RefereeStatus)
	}
	got, _ := env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	if got.SuccessfulCheckIns != 0 || got.FailedCheckIns != 1 {
		t.Fatalf("counters after dispute = %d/%d, want 0/1", got.SuccessfulCheckIns, got.FailedCheckIns)
	}
}

func TestResolveAuthorization(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})
	ci, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-03",
		ReportedStatus: domain.CheckInSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, user := range []string{"alice", "mallory"} {
		if _, err := env.Engine.VerifyCheckIn(env.Ctx, user, ci.ID, ""); !errors.Is(err, engine.ErrNotAuthorized) {
			t.Errorf("verify as %s: err = %v, want ErrNotAuthorized", user, err)
		}
	}
	if _, err := env.Engine.VerifyCheckIn(env.Ctx, "bob", "no-such-id", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("verify missing: err = %v, want ErrNotFound", err)
	}
}

func TestPendingQueueIsOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})
	var ids []string
	for day, hour := range map[string]int{"2024-01-01": 12, "2024-01-02": 9, "2024-01-03": 15} {
		h := hour
		d := day
		env.Engine.Now = func() time.Time {
			t, _ := time.Parse("2006-01-02", d)
			return t.Add(time.Duration(h) * time.Hour)
		}
		ci, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
			OwnerID: "alice", CommitmentID: c.ID, CheckInDate: d,
			ReportedStatus: domain.CheckInSuccess,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, ci.ID)
	}

	queue, err := env.Engine.ListPendingForReferee(env.Ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(queue) != 3 {
		t.Fatalf("queue length = %d, want 3", len(queue))
	}
	for i := 1; i < len(queue); i++ {
		if queue[i-1].CheckIn.CreatedAt > queue[i].CheckIn.CreatedAt {
			t.Fatalf("queue not oldest first: %s before %s", queue[i-1].CheckIn.CreatedAt, queue[i].CheckIn.CreatedAt)
		}
	}
}

func TestListCheckInsOrderedByDate(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{})
	for _, date := range []string{"2024-01-05", "2024-01-02", "2024-01-04"} {
		_, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
			OwnerID: "alice", CommitmentID: c.ID, CheckInDate: date,
			ReportedStatus: domain.CheckInSuccess,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	list, err := env.Engine.ListCheckIns(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-02", "2024-01-04", "2024-01-05"}
	if len(list) != len(want) {
		t.Fatalf("list length = %d, want %d", len(list), len(want))
	}
	for i, d := range want {
		if list[i].CheckInDate != d {
			t.Errorf("list[%d] = %s, want %s", i, list[i].CheckInDate, d)
		}
	}
	if _, err := env.Engine.ListCheckIns(env.Ctx, c.ID, "mallory"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("stranger list: err = %v, want ErrNotFound", err)
	}
}

func TestRefereeAcceptActivates(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})

	if _, err := env.Engine.AcceptReferee(env.Ctx, "mallory", c.ID); !errors.Is(err, engine.ErrNotAuthorized) {
		t.Fatalf("accept as stranger: err = %v, want ErrNotAuthorized", err)
	}

	got, err := env.Engine.AcceptReferee(env.Ctx, "bob", c.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != domain.CommitmentActive || got.RefereeAcceptedAt == nil {
		t.Fatalf("after accept: status=%s acceptedAt=%v", got.Status, got.RefereeAcceptedAt)
	}

	if _, err := env.Engine.AcceptReferee(env.Ctx, "bob", c.ID); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("second accept: err = %v, want ErrInvalidInput", err)
	}
}

func TestRefereeDeclineCancels(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})
	got, err := env.Engine.DeclineReferee(env.Ctx, "bob", c.ID)
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if got.Status != domain.CommitmentCancelled {
		t.Fatalf("after decline: status = %s, want cancelled", got.Status)
	}
}

func TestCountersMatchResolvedLedger(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{
		StakesAmount: 2500, RefereeID: "bob",
	})
	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		_, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
			OwnerID: "alice", CommitmentID: c.ID, CheckInDate: date,
			ReportedStatus: domain.CheckInSuccess,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	queue, _ := env.Engine.ListPendingForReferee(env.Ctx, "bob")
	if _, err := env.Engine.VerifyCheckIn(env.Ctx, "bob", queue[0].CheckIn.ID, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DisputeCheckIn(env.Ctx, "bob", queue[1].CheckIn.ID, ""); err != nil {
		t.Fatal(err)
	}

	got, _ := env.Engine.GetCommitment(env.Ctx, c.ID, "alice")
	resolved, err := env.Engine.Repo.CountResolvedCheckIns(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SuccessfulCheckIns+got.FailedCheckIns != resolved {
		t.Fatalf("counters %d+%d out of sync with %d resolved check-ins",
			got.SuccessfulCheckIns, got.FailedCheckIns, resolved)
	}
	if resolved != 2 {
		t.Fatalf("resolved = %d, want 2", resolved)
	}
}

func TestFeedRecordsActivity(t *testing.T) {
	env := newTestEnv(t)
	c := createCommitment(t, env, engine.CommitmentCreateOptions{IsPublic: true})
	_, err := env.Engine.SubmitCheckIn(env.Ctx, engine.CheckInSubmitOptions{
		OwnerID: "alice", CommitmentID: c.ID, CheckInDate: "2024-01-03",
		ReportedStatus: domain.CheckInSuccess,
	})
	if err != nil {
		t.Fatal(err)
	}

	feed, err := env.Engine.Repo.ListPublicFeed(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 2 {
		t.Fatalf("public feed = %d items, want 2", len(feed))
	}
	// Newest first.
	if feed[0].ActivityType != "check_in_success" || feed[1].ActivityType != "commitment_created" {
		t.Fatalf("feed order: %s, %s", feed[0].ActivityType, feed[1].ActivityType)
	}
	if feed[0].User.Username != "alice" {
		t.Fatalf("feed author = %s, want alice", feed[0].User.Username)
	}

	// A private commitment's activity stays out of the public feed.
	createCommitment(t, env, engine.CommitmentCreateOptions{Title: "Quiet goal"})
	feed, _ = env.Engine.Repo.ListPublicFeed(env.Ctx, 10)
	if len(feed) != 2 {
		t.Fatalf("private activity leaked into public feed: %d items", len(feed))
	}
	own, err := env.Engine.Repo.ListFeed(env.Ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 3 {
		t.Fatalf("own feed = %d items, want 3", len(own))
	}
}
