package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("analyzing event 7: %w", Wrap(Upstream, base, "search failed"))

	if KindOf(err) != Upstream {
		t.Errorf("expected upstream kind, got %q", KindOf(err))
	}
	if !errors.Is(err, base) {
		t.Error("expected cause to remain reachable through errors.Is")
	}
	if Message(err) != "search failed" {
		t.Errorf("unexpected message %q", Message(err))
	}
	if Details(err) != "connection reset" {
		t.Errorf("unexpected details %q", Details(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(Extraction, nil, "ignored") != nil {
		t.Error("expected nil for nil cause")
	}
}

func TestUnclassified(t *testing.T) {
	err := errors.New("plain")
	if KindOf(err) != "" {
		t.Errorf("expected empty kind, got %q", KindOf(err))
	}
	if Message(err) != "plain" || Details(err) != "plain" {
		t.Error("expected plain text for unclassified error")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Auth:       http.StatusUnauthorized,
		NotFound:   http.StatusNotFound,
		Validation: http.StatusBadRequest,
		Upstream:   http.StatusInternalServerError,
		Extraction: http.StatusInternalServerError,
		"":         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", kind, got, want)
		}
	}
}
