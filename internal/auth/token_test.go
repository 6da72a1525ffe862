package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func makeToken(t *testing.T, claims Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-side-secret"))
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return signed
}

func TestFromToken_SubjectBecomesOwner(t *testing.T) {
	now := time.Now()
	token := makeToken(t, Claims{
		Email: "t@uni.example",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "teacher-42",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	id, err := FromToken(token, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Owner != "teacher-42" || id.Email != "t@uni.example" {
		t.Errorf("identity = %+v", id)
	}
}

func TestFromToken_FallsBackToEmail(t *testing.T) {
	now := time.Now()
	token := makeToken(t, Claims{Email: "t@uni.example"})

	id, err := FromToken(token, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Owner != "t@uni.example" {
		t.Errorf("owner = %s, want the email", id.Owner)
	}
}

func TestFromToken_ExpiredToken_Rejected(t *testing.T) {
	now := time.Now()
	token := makeToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "teacher-42",
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
	})

	if _, err := FromToken(token, now); !errors.Is(err, ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
}

func TestFromToken_NoIdentityClaims_Rejected(t *testing.T) {
	token := makeToken(t, Claims{})
	if _, err := FromToken(token, time.Now()); !errors.Is(err, ErrNoSubject) {
		t.Fatalf("got %v, want ErrNoSubject", err)
	}
}

func TestFromToken_Garbage_Rejected(t *testing.T) {
	if _, err := FromToken("not-a-jwt", time.Now()); err == nil {
		t.Fatal("garbage token must not parse")
	}
}
