package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateRoomToken(t *testing.T) {
	prev := jwtSecret
	t.Cleanup(func() { jwtSecret = prev })
	jwtSecret = []byte("secret-key")

	tokenStr, err := GenerateRoomToken("room-1", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	claims, err := ValidateRoomToken(tokenStr)
	if err != nil {
		t.Fatalf("expected valid token, got error %v", err)
	}
	if claims.RoomId != "room-1" || claims.UserId != "user-1" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
}

func TestValidateRoomTokenWrongSecret(t *testing.T) {
	prev := jwtSecret
	t.Cleanup(func() { jwtSecret = prev })
	jwtSecret = []byte("secret-a")

	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &RoomTokenClaims{
		RoomId: "room-1",
		UserId: "user-1",
	}).SignedString([]byte("secret-b"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := ValidateRoomToken(badToken); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestValidateRoomTokenExpired(t *testing.T) {
	prev := jwtSecret
	t.Cleanup(func() { jwtSecret = prev })
	jwtSecret = []byte("secret-key")

	tokenStr, err := GenerateRoomToken("room-1", "user-1", -time.Minute)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := ValidateRoomToken(tokenStr); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestValidateRoomTokenRejectsWrongAlgorithm(t *testing.T) {
	prev := jwtSecret
	t.Cleanup(func() { jwtSecret = prev })
	jwtSecret = []byte("secret-key")

	// alg=none tokens must never validate.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &RoomTokenClaims{
		RoomId: "room-1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build token: %v", err)
	}

	if _, err := ValidateRoomToken(unsigned); err == nil {
		t.Fatalf("expected algorithm rejection")
	}
}

func TestExtractTokenFromHeader(t *testing.T) {
	token, err := ExtractTokenFromHeader("Bearer abc.def.ghi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "abc.def.ghi" {
		t.Fatalf("unexpected token %q", token)
	}

	if _, err := ExtractTokenFromHeader(""); err == nil {
		t.Fatalf("expected error for missing header")
	}
	if _, err := ExtractTokenFromHeader("Basic abc"); err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected format error, got %v", err)
	}
}
