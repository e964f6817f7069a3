package wire

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestSendMessageValidateRejectsEmptyAndWhitespace(t *testing.T) {
	cases := []string{"", "   ", "\t\n"}
	for _, content := range cases {
		p := SendMessagePayload{RoomID: uuid.New(), Content: content}
		if err := p.Validate(); !errors.Is(err, ErrValidation) {
			t.Fatalf("content %q: expected ErrValidation, got %v", content, err)
		}
	}
}

func TestSendMessageValidateAcceptsNonEmpty(t *testing.T) {
	p := SendMessagePayload{RoomID: uuid.New(), Content: "hello"}
	if err := p.Validate(); err != nil {
		t.Fatalf("expected valid content to pass, got %v", err)
	}
}

func TestNormalizeLoadMoreClampsLimit(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, 50},
		{-5, 50},
		{201, 50},
		{50, 50},
		{1, 1},
		{200, 200},
	}
	for _, c := range cases {
		got := NormalizeLoadMore(LoadMorePayload{Limit: c.in}).Limit
		if got != c.want {
			t.Errorf("limit %d: want %d, got %d", c.in, c.want, got)
		}
	}
}

func TestCodeForMapsSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{ErrValidation, CodeValidationError},
		{ErrNotFound, CodeNotFound},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrForbidden, CodeForbidden},
		{ErrDuplicateRoomName, CodeDuplicateRoomName},
		{ErrPasscodeRequired, CodePasscodeRequired},
		{ErrInvalidPasscode, CodeInvalidPasscode},
		{errors.New("boom"), CodeServerError},
	}
	for _, c := range cases {
		if got := CodeFor(c.err); got != c.want {
			t.Errorf("err %v: want %s, got %s", c.err, c.want, got)
		}
	}
}
