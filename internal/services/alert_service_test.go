package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/notify"
	"github.com/emberline/emberline/internal/testhelpers"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

var fireVerdict = database.Verdict{IsFire: true, Score: 0.9, Reason: "visible flames near the kitchen window"}

type alertFixture struct {
	db       *gorm.DB
	svc      *AlertService
	verifier *testhelpers.FakeVerifier
	email    *testhelpers.FakeSender
	slack    *testhelpers.FakeSender
}

func newAlertFixture(t *testing.T, verifier *testhelpers.FakeVerifier) *alertFixture {
	t.Helper()
	db := testhelpers.NewTestDB(t)
	email := testhelpers.NewFakeSender("email")
	slack := testhelpers.NewFakeSender("slack")

	cfg := AlertServiceConfig{
		Settings:  database.NewDefaultAlertSettings(),
		Notifier:  notify.NewRouter(email, slack),
		PublicURL: "https://dashboard.example.com",
	}
	if verifier != nil {
		cfg.Verifier = verifier
	}
	svc := NewAlertService(db, cfg)
	svc.SetClock(testhelpers.FrozenClock(fixedNow))
	t.Cleanup(svc.Wait)

	return &alertFixture{db: db, svc: svc, verifier: verifier, email: email, slack: slack}
}

// seedDelhi creates a property in central Delhi, one station and one fresh responder.
func (f *alertFixture) seedDelhi(t *testing.T) {
	t.Helper()
	property := testhelpers.NewProperty("prop-1", "owner@example.com", 28.6139, 77.2090)
	station := testhelpers.NewStation("st-1", "Connaught Place Fire Station", 28.7041, 77.1025)
	responder := testhelpers.NewResponderBuilder("r-1").
		At(28.6200, 77.2100).
		LastSeen(fixedNow.Add(-time.Minute)).
		Build()
	testhelpers.MustCreate(t, f.db, &property, &station, &responder)
}

func (f *alertFixture) seedAlert(t *testing.T, b *testhelpers.AlertBuilder) database.Alert {
	t.Helper()
	alert := b.Build()
	lock := b.Lock()
	testhelpers.MustCreate(t, f.db, &alert)
	if alert.Status.IsActive() {
		testhelpers.MustCreate(t, f.db, &lock)
	}
	return alert
}

func detection(cameraID string) Detection {
	return Detection{
		CameraID:   cameraID,
		PropertyID: "prop-1",
		ClassName:  "fire",
		Confidence: 0.9,
		BBox:       []float64{1, 2, 3, 4},
		ImageURL:   "https://img.example.com/" + cameraID + ".jpg",
	}
}

func countLocks(t *testing.T, db *gorm.DB, cameraID string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&database.CameraLock{}).Where("camera_id = ?", cameraID).Count(&n).Error; err != nil {
		t.Fatalf("failed to count locks: %v", err)
	}
	return n
}

func TestCreate_ConcurrentDetectionsAdmitOne(t *testing.T) {
	f := newAlertFixture(t, testhelpers.NewFakeVerifier(fireVerdict))

	var mu sync.Mutex
	admitted, conflicts := 0, 0
	testhelpers.ConcurrentTest(t, 10, func(int) {
		_, err := f.svc.Create(context.Background(), detection("C1"))
		var conflict *AdmissionConflictError
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			admitted++
		case errors.As(err, &conflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	})
	f.svc.Wait()

	if admitted != 1 || conflicts != 9 {
		t.Errorf("expected 1 admitted and 9 conflicts, got %d and %d", admitted, conflicts)
	}

	var active int64
	f.db.Model(&database.Alert{}).
		Where("camera_id = ? AND status IN ?", "C1", database.ActiveAlertStatuses()).
		Count(&active)
	if active != 1 {
		t.Errorf("expected exactly one active alert, got %d", active)
	}
	if n := countLocks(t, f.db, "C1"); n != 1 {
		t.Errorf("expected one camera lock, got %d", n)
	}
}

func TestCreate_SecondDetectionReportsActiveAlert(t *testing.T) {
	f := newAlertFixture(t, testhelpers.NewFakeVerifier(fireVerdict))

	first, err := f.svc.Create(context.Background(), detection("C1"))
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if first.Status != database.AlertStatusPending {
		t.Errorf("expected PENDING, got %s", first.Status)
	}

	_, err = f.svc.Create(context.Background(), detection("C1"))
	var conflict *AdmissionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected AdmissionConflictError, got %v", err)
	}
	if conflict.ActiveAlert.ID != first.ID {
		t.Errorf("conflict should reference %s, got %s", first.ID, conflict.ActiveAlert.ID)
	}

	if _, err := f.svc.Create(context.Background(), detection("C2")); err != nil {
		t.Errorf("other cameras must not be blocked: %v", err)
	}
}

func TestCreate_LockInsertLosesRace(t *testing.T) {
	f := newAlertFixture(t, testhelpers.NewFakeVerifier(fireVerdict))

	// A competing admission takes the camera between the stale check and
	// this transaction's lock insert.
	injected := false
	err := f.db.Callback().Create().Before("gorm:create").Register("test:competing_lock", func(tx *gorm.DB) {
		if injected || tx.Statement.Schema == nil || tx.Statement.Schema.Table != "camera_locks" {
			return
		}
		injected = true
		if _, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"INSERT INTO camera_locks (camera_id, alert_id, created_at) VALUES (?, ?, ?)",
			"C1", "other-alert", fixedNow); err != nil {
			tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	_, err = f.svc.Create(context.Background(), detection("C1"))
	var conflict *AdmissionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected AdmissionConflictError, got %v", err)
	}
	if !injected {
		t.Fatal("competing lock was never inserted")
	}
	if conflict.ActiveAlert.CameraID != "C1" {
		t.Errorf("expected conflict on C1, got %+v", conflict.ActiveAlert)
	}

	var alerts int64
	f.db.Model(&database.Alert{}).Count(&alerts)
	if alerts != 0 {
		t.Errorf("losing admission must not leave an alert, got %d", alerts)
	}
	if n := countLocks(t, f.db, "C1"); n != 0 {
		t.Errorf("expected the rolled back lock to be gone, got %d", n)
	}
}

func TestCreate_InvalidDetection(t *testing.T) {
	f := newAlertFixture(t, nil)

	tests := []struct {
		name string
		d    Detection
	}{
		{"missing camera", Detection{Confidence: 0.5}},
		{"confidence above one", Detection{CameraID: "C1", Confidence: 1.5}},
		{"negative confidence", Detection{CameraID: "C1", Confidence: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Create(context.Background(), tt.d); !errors.Is(err, ErrInvalidDetection) {
				t.Errorf("expected ErrInvalidDetection, got %v", err)
			}
		})
	}
}

func TestCreate_ResolvesPropertyFromCamera(t *testing.T) {
	f := newAlertFixture(t, nil)
	testhelpers.MustCreate(t, f.db, &database.Camera{ID: "C1", PropertyID: "prop-9"})

	d := detection("C1")
	d.PropertyID = ""
	alert, err := f.svc.Create(context.Background(), d)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if alert.PropertyID != "prop-9" {
		t.Errorf("expected property from camera mapping, got %q", alert.PropertyID)
	}
}

func TestApplyVerdict_Transitions(t *testing.T) {
	tests := []struct {
		name     string
		verdict  database.Verdict
		want     database.AlertStatus
		wantLock int64
	}{
		{"fire confirms and keeps lock", database.Verdict{IsFire: true, Score: 0.9}, database.AlertStatusConfirmed, 1},
		{"no fire rejects and releases lock", database.Verdict{IsFire: false, Score: 0.3}, database.AlertStatusRejected, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAlertFixture(t, testhelpers.NewFakeVerifier(tt.verdict))

			alert, err := f.svc.Create(context.Background(), detection("C1"))
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			f.svc.Wait()

			got, err := f.svc.Get(context.Background(), alert.ID)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Status)
			}
			if got.Verdict == nil || got.Verdict.IsFire != tt.verdict.IsFire {
				t.Errorf("verdict not stored: %+v", got.Verdict)
			}
			if n := countLocks(t, f.db, "C1"); n != tt.wantLock {
				t.Errorf("expected %d locks, got %d", tt.wantLock, n)
			}
		})
	}
}

func TestApplyVerdict_AppliesOnlyOnce(t *testing.T) {
	f := newAlertFixture(t, nil)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().CreatedAt(fixedNow))

	applied, err := f.svc.ApplyVerdict(context.Background(), alert.ID, database.Verdict{IsFire: true})
	if err != nil || !applied {
		t.Fatalf("first verdict should apply: %v %v", applied, err)
	}
	applied, err = f.svc.ApplyVerdict(context.Background(), alert.ID, database.Verdict{IsFire: false})
	if err != nil || applied {
		t.Fatalf("second verdict must be ignored: %v %v", applied, err)
	}

	got, _ := f.svc.Get(context.Background(), alert.ID)
	if got.Status != database.AlertStatusConfirmed {
		t.Errorf("expected status to stay CONFIRMED, got %s", got.Status)
	}
}

func TestApplyVerdict_AfterCancelIsNoop(t *testing.T) {
	verifier := testhelpers.NewFakeVerifier(fireVerdict)
	verifier.Release = make(chan struct{})
	f := newAlertFixture(t, verifier)

	alert, err := f.svc.Create(context.Background(), detection("C1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	res, err := f.svc.Cancel(context.Background(), alert.ID, "owner@example.com")
	if err != nil || !res.Success {
		t.Fatalf("cancel should succeed: %+v %v", res, err)
	}

	close(verifier.Release)
	f.svc.Wait()

	got, err := f.svc.Get(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != database.AlertStatusCancelled {
		t.Errorf("verdict after cancel changed status to %s", got.Status)
	}
	if got.Verdict != nil {
		t.Errorf("verdict after cancel must not be stored, got %+v", got.Verdict)
	}
	if got.CancelledBy != "owner@example.com" {
		t.Errorf("expected actor recorded, got %q", got.CancelledBy)
	}
}

func TestCancel_ByStatus(t *testing.T) {
	tests := []struct {
		status  database.AlertStatus
		success bool
	}{
		{database.AlertStatusPending, true},
		{database.AlertStatusConfirmed, true},
		{database.AlertStatusRejected, true},
		{database.AlertStatusSending, false},
		{database.AlertStatusCooldown, false},
		{database.AlertStatusCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newAlertFixture(t, nil)
			alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(tt.status).CreatedAt(fixedNow))

			res, err := f.svc.Cancel(context.Background(), alert.ID, "")
			if err != nil {
				t.Fatalf("cancel must not error: %v", err)
			}
			if res.Success != tt.success {
				t.Errorf("expected success=%v, got %+v", tt.success, res)
			}
			if !tt.success && res.Reason != "already finalized" {
				t.Errorf("expected 'already finalized', got %q", res.Reason)
			}
			if tt.success && countLocks(t, f.db, alert.CameraID) != 0 {
				t.Error("cancel must release the camera lock")
			}
		})
	}
}

func TestCancel_NotFound(t *testing.T) {
	f := newAlertFixture(t, nil)
	if _, err := f.svc.Cancel(context.Background(), "missing", "user"); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound, got %v", err)
	}
}

func TestDelete_ReleasesCamera(t *testing.T) {
	f := newAlertFixture(t, nil)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().CreatedAt(fixedNow))

	if err := f.svc.Delete(context.Background(), alert.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := f.svc.Get(context.Background(), alert.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected alert gone, got %v", err)
	}
	if countLocks(t, f.db, alert.CameraID) != 0 {
		t.Error("expected camera lock released")
	}
	if err := f.svc.Delete(context.Background(), alert.ID); !errors.Is(err, ErrAlertNotFound) {
		t.Errorf("expected ErrAlertNotFound on second delete, got %v", err)
	}
}
