package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
)

func TestVerifyDevMode(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	p, err := v.Verify("t_demo:planner:w-alice")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Tenant != "t_demo" || p.Role != "planner" || p.WorkerID != "w-alice" {
		t.Fatalf("principal: %+v", p)
	}
	if _, err := v.Verify("garbage"); err == nil {
		t.Fatalf("token without role should fail")
	}
}

func hs256Token(t *testing.T, secret []byte, payload string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := enc.EncodeToString([]byte(payload))
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(header + "." + body))
	return header + "." + body + "." + enc.EncodeToString(mac.Sum(nil))
}

func TestVerifyHMACMode(t *testing.T) {
	secret := []byte("s3cret")
	v := &Verifier{
		Mode:        "hmac",
		HMACSecret:  secret,
		TenantClaim: "tenant",
		RoleClaim:   "role",
		WorkerClaim: "sub",
	}

	tok := hs256Token(t, secret, `{"tenant":"t_demo","role":"Admin","sub":"w-1"}`)
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Tenant != "t_demo" || p.Role != "admin" || p.WorkerID != "w-1" {
		t.Fatalf("principal: %+v", p)
	}

	if _, err := v.Verify(hs256Token(t, []byte("other"), `{"tenant":"t_demo","role":"admin"}`)); err == nil {
		t.Fatalf("wrong secret should fail verification")
	}
	if _, err := v.Verify(hs256Token(t, secret, `{"role":"admin"}`)); err == nil {
		t.Fatalf("missing tenant claim should fail")
	}
}

func TestVerifyDefaultsRoleToWorker(t *testing.T) {
	secret := []byte("s3cret")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, TenantClaim: "tenant", RoleClaim: "role", WorkerClaim: "sub"}
	p, err := v.Verify(hs256Token(t, secret, `{"tenant":"t_demo"}`))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Role != "worker" {
		t.Fatalf("default role = %s, want worker", p.Role)
	}
}
