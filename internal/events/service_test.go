package events

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/db"
	"github.com/gatherly/backend/internal/db/memdb"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/notify"
	"github.com/gatherly/backend/internal/storage"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, ns ...notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, ns...)
	return nil
}

func (n *recordingNotifier) kinds() map[notify.Kind][]uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := map[notify.Kind][]uuid.UUID{}
	for _, x := range n.sent {
		out[x.Kind] = append(out[x.Kind], x.RecipientID)
	}
	return out
}

type fixture struct {
	store    *memdb.Store
	svc      *Service
	notifier *recordingNotifier
	images   *storage.MemoryImages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memdb.New(),
		notifier: &recordingNotifier{},
		images:   storage.NewMemoryImages(),
	}
	f.svc = NewService(f.store, Config{Notifier: f.notifier, Images: f.images})
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) account(t *testing.T, kind db.AccountKind) *auth.Principal {
	t.Helper()
	id := uuid.New()
	a := &db.Account{ID: id, Kind: kind, Email: id.String() + "@example.com", Username: "u", PasswordHash: "x"}
	if err := f.store.Accounts().Create(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return &auth.Principal{ID: id, Email: a.Email, Kind: kind}
}

func input(title string, capacity int) Input {
	return Input{
		Title:    title,
		StartsAt: testNow.Add(24 * time.Hour),
		EndsAt:   testNow.Add(26 * time.Hour),
		Capacity: capacity,
	}
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	organizer := f.account(t, db.KindRegularUser)

	event, err := f.svc.Create(context.Background(), organizer, input("Board Games Night!", 10))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if event.Slug != "board-games-night" {
		t.Errorf("slug = %q", event.Slug)
	}
	if !event.OrganizerID.Valid || event.OrganizerID.UUID != organizer.ID {
		t.Errorf("organizer = %v", event.OrganizerID)
	}
}

func TestMakeSlug(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"short", "Board Games Night!", "board-games-night"},
		{"cut on word boundary", strings.Repeat("word ", 30), strings.TrimSuffix(strings.Repeat("word-", 28), "-")},
		{"single long word", strings.Repeat("æ", 120), strings.Repeat("ae", 70)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := makeSlug(tt.title); got != tt.want {
				t.Errorf("makeSlug() = %q, want %q", got, tt.want)
			}
		})
	}

	for _, title := range []string{strings.Repeat("中", 120), strings.Repeat("a&", 60)} {
		got := makeSlug(title)
		if len(got) == 0 || len(got) > MaxSlugLength {
			t.Errorf("makeSlug(%.10q...) has length %d", title, len(got))
		}
		if strings.HasPrefix(got, "-") || strings.HasSuffix(got, "-") {
			t.Errorf("makeSlug(%.10q...) = %q has dangling dashes", title, got)
		}
	}
}

func TestCreate_LongTransliteratedTitle(t *testing.T) {
	f := newFixture(t)
	organizer := f.account(t, db.KindRegularUser)

	event, err := f.svc.Create(context.Background(), organizer, input(strings.Repeat("æ", 120), 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(event.Slug) > MaxSlugLength {
		t.Errorf("slug length = %d, want <= %d", len(event.Slug), MaxSlugLength)
	}

	updated, err := f.svc.Update(context.Background(), organizer, event.ID, input(strings.Repeat("中", 120), 0))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(updated.Slug) > MaxSlugLength {
		t.Errorf("updated slug length = %d, want <= %d", len(updated.Slug), MaxSlugLength)
	}
}

func TestDeletedAccount_LiveTokenIsUnauthorized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindRegularUser)
	event, err := f.svc.Create(ctx, organizer, input("Picnic", 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// A principal from an access token whose account has since been deleted.
	ghost := &auth.Principal{ID: uuid.New(), Email: "gone@x.com", Kind: db.KindRegularUser}

	if _, err := f.svc.Create(ctx, ghost, input("Ghost Party", 0)); apperrors.TypeOf(err) != apperrors.TypeUnauthorized {
		t.Errorf("Create error = %v, want Unauthorized", err)
	}
	if _, err := f.svc.SignUp(ctx, ghost, event.ID); apperrors.TypeOf(err) != apperrors.TypeUnauthorized {
		t.Errorf("SignUp error = %v, want Unauthorized", err)
	}
	if n, _ := f.store.Signups().Count(ctx, event.ID); n != 0 {
		t.Errorf("signup count = %d, want 0", n)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	organizer := f.account(t, db.KindRegularUser)
	missingVenue := uuid.New()

	tests := []struct {
		name string
		in   Input
	}{
		{"short title", input("ab", 0)},
		{"negative capacity", input("Picnic", -1)},
		{"ends before start", Input{Title: "Picnic", StartsAt: testNow.Add(2 * time.Hour), EndsAt: testNow.Add(time.Hour)}},
		{"unknown venue", Input{Title: "Picnic", StartsAt: testNow, EndsAt: testNow.Add(time.Hour), VenueID: &missingVenue}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), organizer, tt.in)
			if apperrors.TypeOf(err) != apperrors.TypeValidationError {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestUpdateDelete_OwnershipGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.account(t, db.KindRegularUser)
	other := f.account(t, db.KindRegularUser)

	event, err := f.svc.Create(ctx, owner, input("Picnic", 0))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name     string
		who      *auth.Principal
		id       uuid.UUID
		wantType apperrors.ErrorType
	}{
		{"other account", other, event.ID, apperrors.TypeForbidden},
		{"missing event", owner, uuid.New(), apperrors.TypeNotFound},
		{"missing event, other account", other, uuid.New(), apperrors.TypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Update(ctx, tt.who, tt.id, input("Renamed", 0)); apperrors.TypeOf(err) != tt.wantType {
				t.Errorf("Update error = %v, want %s", err, tt.wantType)
			}
			if err := f.svc.Delete(ctx, tt.who, tt.id); apperrors.TypeOf(err) != tt.wantType {
				t.Errorf("Delete error = %v, want %s", err, tt.wantType)
			}
		})
	}

	updated, err := f.svc.Update(ctx, owner, event.ID, input("Renamed Picnic", 5))
	if err != nil {
		t.Fatalf("owner Update: %v", err)
	}
	if updated.Title != "Renamed Picnic" || updated.Slug != "renamed-picnic" || updated.Capacity != 5 {
		t.Errorf("updated = %+v", updated)
	}

	if err := f.svc.Delete(ctx, owner, event.ID); err != nil {
		t.Fatalf("owner Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, event.ID); apperrors.TypeOf(err) != apperrors.TypeNotFound {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestDetachedEvent_IsForbiddenForEveryone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.account(t, db.KindRegularUser)

	event, _ := f.svc.Create(ctx, owner, input("Picnic", 0))
	if err := f.store.Accounts().Delete(ctx, owner.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	got, err := f.svc.Get(ctx, event.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OrganizerID.Valid {
		t.Fatal("event should be detached from the deleted organizer")
	}

	if err := f.svc.Delete(ctx, owner, event.ID); apperrors.TypeOf(err) != apperrors.TypeForbidden {
		t.Errorf("Delete on detached event = %v, want Forbidden", err)
	}
}

func TestSignUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindBusinessClient)
	alice := f.account(t, db.KindRegularUser)
	bob := f.account(t, db.KindRegularUser)
	business := f.account(t, db.KindBusinessClient)

	event, _ := f.svc.Create(ctx, organizer, input("Small Picnic", 1))

	got, err := f.svc.SignUp(ctx, alice, event.ID)
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if got.SignupCount != 1 {
		t.Errorf("signup count = %d", got.SignupCount)
	}

	if _, err := f.svc.SignUp(ctx, alice, event.ID); apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("duplicate signup error = %v", err)
	} else if ae, _ := apperrors.As(err); ae.Code != apperrors.CodeAlreadyJoined {
		t.Errorf("duplicate signup code = %s", ae.Code)
	}

	_, err = f.svc.SignUp(ctx, bob, event.ID)
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeEventFull {
		t.Errorf("full event error = %v", err)
	}
	if n, _ := f.store.Signups().Count(ctx, event.ID); n != 1 {
		t.Errorf("signup count after rejected signup = %d, want 1", n)
	}

	if _, err := f.svc.SignUp(ctx, business, event.ID); apperrors.TypeOf(err) != apperrors.TypeForbidden {
		t.Errorf("business client signup error = %v, want Forbidden", err)
	}

	if _, err := f.svc.SignUp(ctx, bob, uuid.New()); apperrors.TypeOf(err) != apperrors.TypeNotFound {
		t.Errorf("missing event signup error = %v", err)
	}

	if got := f.notifier.kinds()[notify.KindSignupCreated]; len(got) != 1 || got[0] != organizer.ID {
		t.Errorf("organizer notifications = %v", got)
	}

	mine, err := f.svc.ListSignups(ctx, alice)
	if err != nil || len(mine) != 1 || mine[0].ID != event.ID {
		t.Errorf("ListSignups = %v, %v", mine, err)
	}

	if err := f.svc.CancelSignUp(ctx, alice, event.ID); err != nil {
		t.Fatalf("CancelSignUp: %v", err)
	}
	if err := f.svc.CancelSignUp(ctx, alice, event.ID); apperrors.TypeOf(err) != apperrors.TypeNotFound {
		t.Errorf("second cancel = %v, want NotFound", err)
	}
	if _, err := f.svc.SignUp(ctx, bob, event.ID); err != nil {
		t.Errorf("signup after a seat was freed: %v", err)
	}
}

func TestSignUp_EndedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindRegularUser)
	alice := f.account(t, db.KindRegularUser)

	past := Input{Title: "Yesterday", StartsAt: testNow.Add(-26 * time.Hour), EndsAt: testNow.Add(-24 * time.Hour)}
	event, err := f.svc.Create(ctx, organizer, past)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = f.svc.SignUp(ctx, alice, event.ID)
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeEventEnded {
		t.Errorf("ended event error = %v", err)
	}
}

func TestSignUp_ConcurrentLastSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindRegularUser)
	event, _ := f.svc.Create(ctx, organizer, input("Tiny", 1))

	users := make([]*auth.Principal, 8)
	for i := range users {
		users[i] = f.account(t, db.KindRegularUser)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, u := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.SignUp(ctx, u, event.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("%d signups succeeded for one seat", succeeded)
	}
}

func TestUpdate_NotifiesAttendeesAndGuardsCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindRegularUser)
	alice := f.account(t, db.KindRegularUser)
	bob := f.account(t, db.KindRegularUser)

	event, _ := f.svc.Create(ctx, organizer, input("Picnic", 0))
	f.svc.SignUp(ctx, alice, event.ID)
	f.svc.SignUp(ctx, bob, event.ID)

	if _, err := f.svc.Update(ctx, organizer, event.ID, input("Picnic", 1)); apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("shrinking below signups = %v, want ValidationError", err)
	}

	if _, err := f.svc.Update(ctx, organizer, event.ID, input("Picnic in the park", 2)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := f.notifier.kinds()[notify.KindEventUpdated]; len(got) != 2 {
		t.Errorf("event_updated recipients = %v, want alice and bob", got)
	}

	if err := f.svc.Delete(ctx, organizer, event.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := f.notifier.kinds()[notify.KindEventCancelled]; len(got) != 2 {
		t.Errorf("event_cancelled recipients = %v", got)
	}
}

func TestDeleteAllForOrganizer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindRegularUser)
	other := f.account(t, db.KindRegularUser)

	for _, title := range []string{"One", "Two", "Three"} {
		if _, err := f.svc.Create(ctx, organizer, input(title+" event", 0)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	kept, _ := f.svc.Create(ctx, other, input("Other event", 0))

	n, err := f.svc.DeleteAllForOrganizer(ctx, organizer)
	if err != nil {
		t.Fatalf("DeleteAllForOrganizer: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}

	page, _ := f.svc.List(ctx, Query{Limit: 20})
	if page.Total != 1 || page.Items[0].ID != kept.ID {
		t.Errorf("remaining events = %+v", page.Items)
	}
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	organizer := f.account(t, db.KindRegularUser)

	f.svc.Create(ctx, organizer, input("Future", 0))
	f.svc.Create(ctx, organizer, Input{Title: "Past", StartsAt: testNow.Add(-3 * time.Hour), EndsAt: testNow.Add(-2 * time.Hour)})

	all, _ := f.svc.List(ctx, Query{Limit: 20})
	upcoming, _ := f.svc.List(ctx, Query{Upcoming: true, Limit: 20})
	if all.Total != 2 || upcoming.Total != 1 || upcoming.Items[0].Title != "Future" {
		t.Errorf("all=%d upcoming=%+v", all.Total, upcoming.Items)
	}

	page, _ := f.svc.List(ctx, Query{Limit: 1, Offset: 1})
	if len(page.Items) != 1 || page.Total != 2 || page.Items[0].Title != "Future" {
		t.Errorf("second page = %+v", page)
	}
}

func TestCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.account(t, db.KindRegularUser)
	other := f.account(t, db.KindRegularUser)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	event, _ := f.svc.Create(ctx, owner, input("Picnic", 0))

	if _, err := f.svc.OpenCover(ctx, event.ID); apperrors.TypeOf(err) != apperrors.TypeNotFound {
		t.Errorf("OpenCover without cover = %v", err)
	}
	if _, err := f.svc.SetCover(ctx, other, event.ID, png); apperrors.TypeOf(err) != apperrors.TypeForbidden {
		t.Errorf("SetCover by other = %v, want Forbidden", err)
	}
	if _, err := f.svc.SetCover(ctx, owner, event.ID, []byte("plain text")); apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("SetCover with text = %v, want ValidationError", err)
	}

	updated, err := f.svc.SetCover(ctx, owner, event.ID, png)
	if err != nil {
		t.Fatalf("SetCover: %v", err)
	}
	if updated.CoverKey != storage.ContentKey(png) {
		t.Errorf("cover key = %q", updated.CoverKey)
	}

	obj, err := f.svc.OpenCover(ctx, event.ID)
	if err != nil {
		t.Fatalf("OpenCover: %v", err)
	}
	defer obj.Close()
	if obj.ContentType != "image/png" || obj.Size != int64(len(png)) {
		t.Errorf("object = %+v", obj)
	}
}
