package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
)

type invalidateBody struct {
	Datasets []string `json:"datasets" validate:"omitempty,dive,oneof=interactions surveys"`
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
		want    int
	}{
		{name: "empty", body: "", want: 0},
		{name: "valid", body: `{"datasets":["surveys"]}`, want: 1},
		{name: "unknown dataset", body: `{"datasets":["orders"]}`, wantErr: true},
		{name: "unknown field", body: `{"tables":["surveys"]}`, wantErr: true},
		{name: "malformed", body: `{"datasets":`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dest invalidateBody
			err := DecodeOptionalJSONBody(req, &dest)
			if tc.wantErr {
				typed := pkgerrors.As(err)
				if typed == nil || typed.Code() != pkgerrors.CodeValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(dest.Datasets) != tc.want {
				t.Fatalf("expected %d datasets, got %v", tc.want, dest.Datasets)
			}
		})
	}
}

func TestDecodeJSONBodyRequiresContent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var dest invalidateBody
	if err := DecodeJSONBody(req, &dest); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?start_month=%202023-01%20", nil)
	got, err := QueryString(req, "start_month")
	if err != nil || got != "2023-01" {
		t.Fatalf("expected trimmed value, got %q %v", got, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/?account_id="+strings.Repeat("a", maxQueryValueLen+1), nil)
	if _, err := QueryString(req, "account_id"); err == nil {
		t.Fatal("expected error for oversized value")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  abcdef ", 3); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
}
