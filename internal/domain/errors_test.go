package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("%w: eof", ErrDecode), KindDecode},
		{fmt.Errorf("%w %q", ErrUnknownType, "x"), KindDecode},
		{ErrNotHost, KindAuthorization},
		{ErrNotMember, KindAuthorization},
		{fmt.Errorf("%w %q", ErrUnknownSession, "x"), KindUnknownSession},
		{ErrNotConnected, KindTransport},
		{fmt.Errorf("%w: bad zip", ErrArtifactDecode), KindArtifactDecode},
		{ErrRateLimited, KindRateLimited},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestValidateSessionName(t *testing.T) {
	if name, err := ValidateSessionName("X1"); err != nil || name != "X1" {
		t.Fatalf("valid name rejected: %v", err)
	}
	for _, bad := range []string{"", strings.Repeat("a", MaxSessionNameLen+1)} {
		if _, err := ValidateSessionName(bad); !errors.Is(err, ErrDecode) {
			t.Errorf("ValidateSessionName(%d chars) err = %v", len(bad), err)
		}
	}
}
