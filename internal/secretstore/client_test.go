package secretstore

import "testing"

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"login-user":     "LOGIN_USER",
		"api.key":        "API_KEY",
		"already_OK":     "ALREADY_OK",
		"9lives":         "C9LIVES",
		"---":            "_",
		"Weird!!Chars**": "WEIRD_CHARS",
	}
	for in, want := range cases {
		if got := NormalizeKey(in); got != want {
			t.Fatalf("NormalizeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCredentialKey(t *testing.T) {
	got := CredentialKey("proj1234", "checkout-login")
	want := "CRED_PROJ1234_CHECKOUT_LOGIN"
	if got != want {
		t.Fatalf("CredentialKey() = %q, want %q", got, want)
	}
}

func TestParseCredentialValueStructured(t *testing.T) {
	v := parseCredentialValue(`{"username":"bob","password":"s3cret","mfa":"off"}`)
	if v.Username != "bob" || v.Password != "s3cret" {
		t.Fatalf("unexpected parse: %+v", v)
	}
	if v.Extra["mfa"] != "off" {
		t.Fatalf("expected extra field mfa to survive, got %+v", v.Extra)
	}
}

func TestParseCredentialValueBarePassword(t *testing.T) {
	v := parseCredentialValue("just-a-password")
	if v.Password != "just-a-password" || v.Username != "" {
		t.Fatalf("unexpected parse: %+v", v)
	}
}
