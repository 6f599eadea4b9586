package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emberline/emberline/internal/database"
	"github.com/emberline/emberline/internal/notify"
	"github.com/emberline/emberline/internal/testhelpers"
)

func TestConfirmAndNotify_DetectionToCooldown(t *testing.T) {
	f := newAlertFixture(t, testhelpers.NewFakeVerifier(fireVerdict))
	f.seedDelhi(t)
	ctx := context.Background()

	alert, err := f.svc.Create(ctx, detection("C1"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if alert.Status != database.AlertStatusPending {
		t.Fatalf("expected PENDING, got %s", alert.Status)
	}

	f.svc.Wait()
	confirmed, _ := f.svc.Get(ctx, alert.ID)
	if confirmed.Status != database.AlertStatusConfirmed {
		t.Fatalf("expected CONFIRMED_BY_GEMINI, got %s", confirmed.Status)
	}

	res, err := f.svc.ConfirmAndNotify(ctx, alert.ID)
	if err != nil {
		t.Fatalf("gatekeeper failed: %v", err)
	}
	if res.Status != GatekeeperNotified || res.Retry {
		t.Fatalf("expected notified, got %+v", res)
	}

	recipients := f.email.Recipients()
	testhelpers.AssertEqual(t, 2, len(recipients), "email recipients")
	if !res.Notifications["owner@example.com"] || !res.Notifications["r-1@responders.example.com"] {
		t.Errorf("expected owner and responder delivered, got %v", res.Notifications)
	}
	if res.Dispatch == nil || res.Dispatch.ID != "r-1" || res.Dispatch.Fallback {
		t.Errorf("expected live responder r-1, got %+v", res.Dispatch)
	}

	got, _ := f.svc.Get(ctx, alert.ID)
	if got.Status != database.AlertStatusCooldown {
		t.Errorf("expected NOTIFIED_COOLDOWN, got %s", got.Status)
	}
	if got.CooldownExpiresAt == nil || !got.CooldownExpiresAt.Equal(alert.CreatedAt.Add(10*time.Minute)) {
		t.Errorf("expected cooldown to end at createdAt+10m, got %v", got.CooldownExpiresAt)
	}
	if got.DispatchedToID != "r-1" {
		t.Errorf("expected dispatch recorded on alert, got %q", got.DispatchedToID)
	}

	var records []database.DispatchRecord
	f.db.Where("alert_id = ?", alert.ID).Find(&records)
	if len(records) != 1 || records[0].TargetType != string(TargetResponder) {
		t.Errorf("expected one responder dispatch record, got %+v", records)
	}
}

func TestConfirmAndNotify_Idempotent(t *testing.T) {
	f := newAlertFixture(t, nil)
	f.seedDelhi(t)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().
		WithStatus(database.AlertStatusConfirmed).
		WithVerdict(fireVerdict).
		CreatedAt(fixedNow))

	first, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID)
	if err != nil || first.Status != GatekeeperNotified {
		t.Fatalf("first call should notify: %+v %v", first, err)
	}
	sent := len(f.email.Sent())

	for i := 0; i < 2; i++ {
		again, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID)
		if err != nil {
			t.Fatalf("repeat call errored: %v", err)
		}
		if again.Status != GatekeeperAlreadyProcessed {
			t.Errorf("expected already processed, got %s", again.Status)
		}
	}
	if len(f.email.Sent()) != sent {
		t.Errorf("repeat calls sent %d extra messages", len(f.email.Sent())-sent)
	}
}

func TestConfirmAndNotify_ByStatus(t *testing.T) {
	tests := []struct {
		status  database.AlertStatus
		want    GatekeeperStatus
		retry   bool
		deleted bool
	}{
		{database.AlertStatusPending, GatekeeperNotConfirmed, true, false},
		{database.AlertStatusCancelled, GatekeeperCancelled, false, true},
		{database.AlertStatusRejected, GatekeeperRejected, false, true},
		{database.AlertStatusSending, GatekeeperAlreadyProcessed, false, false},
		{database.AlertStatusCooldown, GatekeeperAlreadyProcessed, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newAlertFixture(t, nil)
			f.seedDelhi(t)
			alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(tt.status).CreatedAt(fixedNow))

			res, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Status != tt.want || res.Retry != tt.retry {
				t.Errorf("expected %s retry=%v, got %+v", tt.want, tt.retry, res)
			}

			_, err = f.svc.Get(context.Background(), alert.ID)
			if deleted := errors.Is(err, ErrAlertNotFound); deleted != tt.deleted {
				t.Errorf("expected deleted=%v, got %v", tt.deleted, deleted)
			}
			if len(f.email.Sent()) != 0 {
				t.Error("no notifications expected")
			}
		})
	}
}

func TestConfirmAndNotify_MissingAlert(t *testing.T) {
	f := newAlertFixture(t, nil)

	res, err := f.svc.ConfirmAndNotify(context.Background(), "gone")
	if err != nil {
		t.Fatalf("missing alert must not error: %v", err)
	}
	if res.Status != GatekeeperNotFound || !res.Terminal() {
		t.Errorf("expected terminal not_found, got %+v", res)
	}
}

func TestConfirmAndNotify_RollsBackWhenEveryRecipientFails(t *testing.T) {
	f := newAlertFixture(t, nil)
	f.seedDelhi(t)
	f.email.FailFor["owner@example.com"] = errors.New("mailbox full")
	f.email.FailFor["r-1@responders.example.com"] = errors.New("relay denied")
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(database.AlertStatusConfirmed).CreatedAt(fixedNow))

	res, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != GatekeeperFailed || !res.Retry {
		t.Errorf("expected retryable failure, got %+v", res)
	}

	got, _ := f.svc.Get(context.Background(), alert.ID)
	if got.Status != database.AlertStatusConfirmed {
		t.Errorf("expected rollback to CONFIRMED, got %s", got.Status)
	}
	if got.CooldownExpiresAt != nil {
		t.Error("rolled back alert must not have a cooldown")
	}
	if v, ok := got.Notifications["owner@example.com"]; !ok || v {
		t.Errorf("expected failed delivery recorded, got %v", got.Notifications)
	}
}

// cancelAfterSend cancels the caller's context once delivery returns, as a
// scheduler shutting down mid-request would.
type cancelAfterSend struct {
	inner  Notifier
	cancel context.CancelFunc
}

func (n cancelAfterSend) SendAll(ctx context.Context, msgs []notify.Message) []notify.Result {
	results := n.inner.SendAll(ctx, msgs)
	n.cancel()
	return results
}

func TestConfirmAndNotify_FinishesAfterCallerCancels(t *testing.T) {
	f := newAlertFixture(t, nil)
	f.seedDelhi(t)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(database.AlertStatusConfirmed).CreatedAt(fixedNow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.notifier = cancelAfterSend{inner: f.svc.notifier, cancel: cancel}

	res, err := f.svc.ConfirmAndNotify(ctx, alert.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != GatekeeperNotified {
		t.Errorf("expected notified, got %+v", res)
	}

	got, _ := f.svc.Get(context.Background(), alert.ID)
	if got.Status != database.AlertStatusCooldown {
		t.Errorf("expected NOTIFIED_COOLDOWN after cancellation, got %s", got.Status)
	}
	if got.DispatchedToID != "r-1" {
		t.Errorf("expected dispatch recorded, got %q", got.DispatchedToID)
	}
}

func TestConfirmAndNotify_RollsBackAfterCallerCancels(t *testing.T) {
	f := newAlertFixture(t, nil)
	f.seedDelhi(t)
	f.email.FailFor["owner@example.com"] = errors.New("mailbox full")
	f.email.FailFor["r-1@responders.example.com"] = errors.New("relay denied")
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(database.AlertStatusConfirmed).CreatedAt(fixedNow))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.svc.notifier = cancelAfterSend{inner: f.svc.notifier, cancel: cancel}

	res, err := f.svc.ConfirmAndNotify(ctx, alert.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != GatekeeperFailed || !res.Retry {
		t.Errorf("expected retryable failure, got %+v", res)
	}

	got, _ := f.svc.Get(context.Background(), alert.ID)
	if got.Status != database.AlertStatusConfirmed {
		t.Errorf("expected rollback to CONFIRMED after cancellation, got %s", got.Status)
	}
}

func TestConfirmAndNotify_PartialFailureStillNotifies(t *testing.T) {
	f := newAlertFixture(t, nil)
	f.seedDelhi(t)
	f.email.FailFor["r-1@responders.example.com"] = errors.New("relay denied")
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(database.AlertStatusConfirmed).CreatedAt(fixedNow))

	res, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != GatekeeperNotified {
		t.Fatalf("expected notified, got %+v", res)
	}
	if !res.Notifications["owner@example.com"] || res.Notifications["r-1@responders.example.com"] {
		t.Errorf("unexpected delivery record: %v", res.Notifications)
	}
}

func TestConfirmAndNotify_UnmappedCameraRollsBack(t *testing.T) {
	f := newAlertFixture(t, nil)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().
		WithProperty("").
		WithStatus(database.AlertStatusConfirmed).
		CreatedAt(fixedNow))

	res, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != GatekeeperFailed {
		t.Errorf("expected failure, got %+v", res)
	}
	got, _ := f.svc.Get(context.Background(), alert.ID)
	if got.Status != database.AlertStatusConfirmed {
		t.Errorf("expected CONFIRMED after rollback, got %s", got.Status)
	}
}

func TestConfirmAndNotify_OpsChannel(t *testing.T) {
	f := newAlertFixture(t, nil)
	f.svc.opsChannel = "#fire-ops"
	f.seedDelhi(t)
	alert := f.seedAlert(t, testhelpers.NewAlertBuilder().WithStatus(database.AlertStatusConfirmed).CreatedAt(fixedNow))

	if _, err := f.svc.ConfirmAndNotify(context.Background(), alert.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := f.slack.Recipients()
	if len(got) != 1 || got[0] != "slack:#fire-ops" {
		t.Errorf("expected ops channel notified, got %v", got)
	}
}

func TestBuildMessage_SensitiveSnapshotWithheld(t *testing.T) {
	f := newAlertFixture(t, nil)
	property := testhelpers.NewProperty("prop-1", "owner@example.com", 28.6139, 77.2090)
	target := &DispatchTarget{ID: "st-1", Type: TargetStation, Name: "Station One", DistanceKm: 4.2, ETAMinutes: 5, Fallback: true}

	tests := []struct {
		name      string
		sensitive bool
		wantImage bool
	}{
		{"normal snapshot attached", false, true},
		{"sensitive snapshot withheld", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := testhelpers.NewAlertBuilder().
				WithVerdict(database.Verdict{IsFire: true, Sensitive: tt.sensitive, Reason: "smoke plume"}).
				Build()

			msg, err := f.svc.buildMessage(&alert, &property, target, recipient{address: "owner@example.com", role: "owner"}, nil)
			if err != nil {
				t.Fatalf("render failed: %v", err)
			}
			if (msg.ImageURL != "") != tt.wantImage {
				t.Errorf("image url present=%v, want %v", msg.ImageURL != "", tt.wantImage)
			}
			for _, want := range []string{"Owner prop-1", "Nearest station: Station One", "smoke plume", "https://www.google.com/maps", "https://dashboard.example.com/alerts/" + alert.ID} {
				if !strings.Contains(msg.Text, want) {
					t.Errorf("text body missing %q:\n%s", want, msg.Text)
				}
			}
			if !strings.HasPrefix(msg.Subject, "FIRE ALERT") {
				t.Errorf("unexpected owner subject %q", msg.Subject)
			}
		})
	}
}
