package security

import (
	"errors"
	"testing"
	"time"
)

func TestOperatorTokenRoundTrip(t *testing.T) {
	token, err := IssueOperatorToken("secret", 42, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	claims, err := ParseOperatorToken("secret", token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.OperatorID != 42 {
		t.Fatalf("expected operator 42, got %d", claims.OperatorID)
	}
}

func TestParseOperatorTokenRejects(t *testing.T) {
	valid, err := IssueOperatorToken("secret", 7, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	expired, err := IssueOperatorToken("secret", 7, time.Hour, time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	cases := map[string]struct {
		secret string
		token  string
	}{
		"wrong secret": {"other", valid},
		"expired":      {"secret", expired},
		"garbage":      {"secret", "not.a.token"},
	}
	for name, tc := range cases {
		if _, errParse := ParseOperatorToken(tc.secret, tc.token); !errors.Is(errParse, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, errParse)
		}
	}

	if _, errParse := ParseOperatorToken("", valid); !errors.Is(errParse, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", errParse)
	}
	if _, errIssue := IssueOperatorToken("secret", 0, time.Hour, time.Now()); errIssue == nil {
		t.Fatalf("expected error for zero operator id")
	}
}
