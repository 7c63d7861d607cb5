package hobbies

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/gatherly/backend/internal/db"
	"github.com/gatherly/backend/internal/db/memdb"
	apperrors "github.com/gatherly/backend/internal/errors"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"Board Games", "board games", false},
		{"  board \t  GAMES ", "board games", false},
		{"Straße", "strasse", false},
		{"Café", "café", false},
		{"   ", "", true},
		{strings.Repeat("a", MaxNameLength+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err != nil && apperrors.TypeOf(err) != apperrors.TypeValidationError {
				t.Errorf("error type = %s", apperrors.TypeOf(err))
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAll_DedupesAndLimits(t *testing.T) {
	got, err := NormalizeAll([]string{"Chess", "chess ", "Hiking"})
	if err != nil {
		t.Fatalf("NormalizeAll: %v", err)
	}
	if strings.Join(got, ",") != "chess,hiking" {
		t.Errorf("got %v", got)
	}

	many := make([]string, MaxPerAccount+1)
	for i := range many {
		many[i] = fmt.Sprintf("hobby %d", i)
	}
	if _, err := NormalizeAll(many); apperrors.TypeOf(err) != apperrors.TypeValidationError {
		t.Errorf("expected ValidationError for %d hobbies, got %v", len(many), err)
	}
}

func TestService_Replace(t *testing.T) {
	store := memdb.New()
	svc := NewService(store)
	ctx := context.Background()

	account := &db.Account{ID: uuid.New(), Kind: db.KindRegularUser, Email: "a@example.com", Username: "a", PasswordHash: "x"}
	if err := store.Accounts().Create(ctx, account); err != nil {
		t.Fatalf("create account: %v", err)
	}

	got, err := svc.Replace(ctx, account.ID, []string{"Chess", "Hiking"})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("hobbies = %v", got)
	}

	got, err = svc.Replace(ctx, account.ID, []string{"hiking"})
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if len(got) != 1 || got[0].Name != "hiking" {
		t.Errorf("hobbies after replace = %v", got)
	}

	// Tags stay in the catalogue after being unassigned.
	all, _ := svc.List(ctx)
	if len(all) != 2 {
		t.Errorf("catalogue = %v, want 2 tags", all)
	}
}

func TestHandlers_List(t *testing.T) {
	store := memdb.New()
	store.Hobbies().Ensure(context.Background(), "chess")

	h := NewHandlers(NewService(store))
	w := httptest.NewRecorder()
	apperrors.HandleFunc(h.List)(w, httptest.NewRequest(http.MethodGet, "/api/v1/hobbies", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"name":"chess"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}
