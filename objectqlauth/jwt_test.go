package objectqlauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/objectql-dev/objectql/driver"
	"github.com/objectql-dev/objectql/runtime"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret-32-bytes-minimum!!!!"), time.Hour)
	token, err := issuer.Sign("u1", "Alice", []string{"admin"}, "space-A")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.SpaceID != "space-A" || len(claims.Roles) != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret-32-bytes-minimum!!!!"), time.Hour)
	token, _ := issuer.Sign("u1", "Alice", nil, "")
	if _, err := issuer.Verify(token + "x"); err == nil {
		t.Fatal("expected verify to fail on tampered token")
	}
}

func TestContextFuncAnonymousWithoutHeader(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret-32-bytes-minimum!!!!"), time.Hour)
	rt := runtime.New(map[string]driver.Driver{"default": driver.NewMemoryDriver()}, "default")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	ctx := issuer.ContextFunc()(req, rt)
	if ctx.UserID != "" || ctx.IsSystem {
		t.Fatalf("expected anonymous non-system context, got %+v", ctx)
	}
}

func TestContextFuncResolvesBearerToken(t *testing.T) {
	issuer := NewIssuer([]byte("test-secret-32-bytes-minimum!!!!"), time.Hour)
	rt := runtime.New(map[string]driver.Driver{"default": driver.NewMemoryDriver()}, "default")
	token, _ := issuer.Sign("u1", "Alice", []string{"admin"}, "space-A")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	ctx := issuer.ContextFunc()(req, rt)
	if ctx.UserID != "u1" || ctx.SpaceID != "space-A" {
		t.Fatalf("unexpected context: %+v", ctx)
	}
}
