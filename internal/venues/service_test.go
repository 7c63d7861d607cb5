package venues

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/auth"
	"github.com/gatherly/backend/internal/db"
	"github.com/gatherly/backend/internal/db/memdb"
	apperrors "github.com/gatherly/backend/internal/errors"
	"github.com/gatherly/backend/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")

func newService(t *testing.T) (*Service, *memdb.Store) {
	t.Helper()
	store := memdb.New()
	svc := NewService(store, storage.NewMemoryImages(), nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc, store
}

func seed(t *testing.T, store *memdb.Store, kind db.AccountKind) *auth.Principal {
	t.Helper()
	id := uuid.New()
	a := &db.Account{ID: id, Kind: kind, Email: id.String() + "@example.com", Username: "owner", PasswordHash: "x"}
	if err := store.Accounts().Create(context.Background(), a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return &auth.Principal{ID: id, Email: a.Email, Kind: kind}
}

var hall = Input{Name: "Town Hall", Address: "1 Main St", City: "Springfield", Capacity: 300}

func TestCreate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	business := seed(t, store, db.KindBusinessClient)
	user := seed(t, store, db.KindRegularUser)

	venue, err := svc.Create(ctx, business, hall)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if venue.OwnerID != business.ID || venue.CreatedAt.IsZero() {
		t.Errorf("venue = %+v", venue)
	}

	if _, err := svc.Create(ctx, user, hall); apperrors.TypeOf(err) != apperrors.TypeForbidden {
		t.Errorf("regular user Create = %v, want Forbidden", err)
	}
	if _, err := svc.Create(ctx, business, Input{Name: "X"}); apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("invalid Create = %v, want ValidationError", err)
	}
}

func TestOwnershipGate(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	owner := seed(t, store, db.KindBusinessClient)
	rival := seed(t, store, db.KindBusinessClient)

	venue, _ := svc.Create(ctx, owner, hall)

	tests := []struct {
		name string
		who  *auth.Principal
		id   uuid.UUID
		want apperrors.ErrorType
	}{
		{"rival", rival, venue.ID, apperrors.TypeForbidden},
		{"missing", owner, uuid.New(), apperrors.TypeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Update(ctx, tt.who, tt.id, hall); apperrors.TypeOf(err) != tt.want {
				t.Errorf("Update = %v, want %s", err, tt.want)
			}
			if err := svc.Delete(ctx, tt.who, tt.id); apperrors.TypeOf(err) != tt.want {
				t.Errorf("Delete = %v, want %s", err, tt.want)
			}
			if _, err := svc.SetPhoto(ctx, tt.who, tt.id, pngBytes); apperrors.TypeOf(err) != tt.want {
				t.Errorf("SetPhoto = %v, want %s", err, tt.want)
			}
		})
	}

	renamed := hall
	renamed.Name = "New Hall"
	updated, err := svc.Update(ctx, owner, venue.ID, renamed)
	if err != nil || updated.Name != "New Hall" {
		t.Fatalf("owner Update = %+v, %v", updated, err)
	}
}

func TestDelete_DetachesEvents(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	owner := seed(t, store, db.KindBusinessClient)
	venue, _ := svc.Create(ctx, owner, hall)

	event := &db.Event{
		ID:          uuid.New(),
		OrganizerID: uuid.NullUUID{UUID: owner.ID, Valid: true},
		VenueID:     uuid.NullUUID{UUID: venue.ID, Valid: true},
		Title:       "Concert",
		StartsAt:    time.Now().Add(time.Hour),
		EndsAt:      time.Now().Add(2 * time.Hour),
	}
	if err := store.Events().Create(ctx, event); err != nil {
		t.Fatalf("create event: %v", err)
	}

	if err := svc.Delete(ctx, owner, venue.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := store.Events().GetByID(ctx, event.ID)
	if err != nil {
		t.Fatalf("event should survive venue deletion: %v", err)
	}
	if got.VenueID.Valid {
		t.Error("event still references the deleted venue")
	}
	if _, err := svc.Get(ctx, venue.ID); apperrors.TypeOf(err) != apperrors.TypeNotFound {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestList(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	a := seed(t, store, db.KindBusinessClient)
	b := seed(t, store, db.KindBusinessClient)

	svc.Create(ctx, a, hall)
	svc.Create(ctx, a, Input{Name: "Barn", Address: "Farm Rd", City: "Shelbyville"})
	svc.Create(ctx, b, Input{Name: "Arena", Address: "2 Main St", City: "springfield"})

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all", Query{Limit: 20}, []string{"Arena", "Barn", "Town Hall"}},
		{"by owner", Query{OwnerID: uuid.NullUUID{UUID: a.ID, Valid: true}, Limit: 20}, []string{"Barn", "Town Hall"}},
		{"by city ignores case", Query{City: "SPRINGFIELD", Limit: 20}, []string{"Arena", "Town Hall"}},
		{"paged", Query{Limit: 1, Offset: 1}, []string{"Barn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.List(ctx, tt.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			var names []string
			for _, v := range page.Items {
				names = append(names, v.Name)
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("names = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestPhoto(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	owner := seed(t, store, db.KindBusinessClient)
	venue, _ := svc.Create(ctx, owner, hall)
	h := NewHandlers(svc)

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/venues/"+venue.ID.String()+"/photo", nil)
		req.SetPathValue("id", venue.ID.String())
		rec := httptest.NewRecorder()
		apperrors.HandleFunc(h.Photo).ServeHTTP(rec, req)
		return rec
	}

	if rec := get(); rec.Code != http.StatusNotFound {
		t.Errorf("photo before upload = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/", bytes.NewReader(pngBytes))
	req.SetPathValue("id", venue.ID.String())
	req = req.WithContext(auth.WithPrincipal(req.Context(), owner))
	rec := httptest.NewRecorder()
	apperrors.HandleFunc(h.SetPhoto).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"photoUrl"`) {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body)
	}

	rec = get()
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !bytes.Equal(body, pngBytes) {
		t.Errorf("photo = %d, %d bytes", rec.Code, len(body))
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestHandlers_Create(t *testing.T) {
	svc, store := newService(t)
	h := NewHandlers(svc)
	business := seed(t, store, db.KindBusinessClient)

	body := `{"name":"Loft","address":"3 Dock St","city":"Harbor","capacity":40}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/venues", strings.NewReader(body))
	req = req.WithContext(auth.WithPrincipal(req.Context(), business))
	rec := httptest.NewRecorder()
	apperrors.HandleFunc(h.Create).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "/api/v1/venues/") {
		t.Errorf("Location = %q", rec.Header().Get("Location"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/venues?ownerId=nope", nil)
	rec = httptest.NewRecorder()
	apperrors.HandleFunc(h.List).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad ownerId status = %d", rec.Code)
	}
}
