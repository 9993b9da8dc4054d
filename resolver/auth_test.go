package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"teraresolve/internal"
)

func writeCookieFile(t *testing.T, content string) string {
	t.Helper()
	cookieFile := filepath.Join(t.TempDir(), "cookies.txt")
	if err := os.WriteFile(cookieFile, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test cookie file: %v", err)
	}
	return cookieFile
}

func TestCookieAuthManager_LoadCookies(t *testing.T) {
	cookieFile := writeCookieFile(t, `# Netscape HTTP Cookie File
# This is a generated file!  Do not edit.

.terabox.com	TRUE	/	FALSE	4102444800	ndus	Yabcdef1234567890abcdef1234567890
#HttpOnly_.terabox.com	TRUE	/	TRUE	4102444800	csrfToken	csrf_value_123
.terabox.com	TRUE	/	FALSE	0	lang	en
`)

	authManager := NewCookieAuthManager()
	cookies, err := authManager.LoadCookies(cookieFile)
	if err != nil {
		t.Fatalf("LoadCookies failed: %v", err)
	}

	if len(cookies) != 3 {
		t.Errorf("Expected 3 cookies, got %d", len(cookies))
	}
	if cookies["ndus"] != "Yabcdef1234567890abcdef1234567890" {
		t.Errorf("Expected ndus to be loaded, got %q", cookies["ndus"])
	}
	if cookies["csrfToken"] != "csrf_value_123" {
		t.Errorf("Expected HttpOnly cookie to be loaded, got %q", cookies["csrfToken"])
	}
	if cookies["lang"] != "en" {
		t.Errorf("Expected session cookie lang=en, got %q", cookies["lang"])
	}
}

func TestCookieAuthManager_LoadCookies_SkipsExpired(t *testing.T) {
	cookieFile := writeCookieFile(t, ".terabox.com\tTRUE\t/\tFALSE\t1000\tstale\tvalue\n"+
		".terabox.com\tTRUE\t/\tFALSE\t4102444800\tfresh\tvalue\n")

	authManager := NewCookieAuthManager()
	authManager.now = func() time.Time { return time.Unix(2000, 0) }

	cookies, err := authManager.LoadCookies(cookieFile)
	if err != nil {
		t.Fatalf("LoadCookies failed: %v", err)
	}
	if _, ok := cookies["stale"]; ok {
		t.Error("Expected expired cookie to be skipped")
	}
	if _, ok := cookies["fresh"]; !ok {
		t.Error("Expected unexpired cookie to be kept")
	}
}

func TestCookieAuthManager_LoadCookies_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing bool
	}{
		{name: "missing file", missing: true},
		{name: "too few fields", content: ".terabox.com\tTRUE\t/\tFALSE\n"},
		{name: "bad expiry", content: ".terabox.com\tTRUE\t/\tFALSE\tsoon\tndus\tvalue\n"},
		{name: "empty name", content: ".terabox.com\tTRUE\t/\tFALSE\t0\t\tvalue\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "absent.txt")
			if !tt.missing {
				path = writeCookieFile(t, tt.content)
			}

			_, err := NewCookieAuthManager().LoadCookies(path)
			if err == nil {
				t.Fatal("Expected an error")
			}
			var validationErr *internal.ValidationError
			if !tt.missing && !errors.As(err, &validationErr) {
				t.Errorf("Expected ValidationError, got %T", err)
			}
		})
	}
}

func TestCookieAuthManager_ValidateSession(t *testing.T) {
	authManager := NewCookieAuthManager()

	tests := []struct {
		name    string
		cookies map[string]string
		wantErr bool
	}{
		{name: "valid ndus", cookies: map[string]string{"ndus": "Yabcdef1234567890abcdef"}},
		{name: "missing ndus", cookies: map[string]string{"lang": "en"}, wantErr: true},
		{name: "short ndus", cookies: map[string]string{"ndus": "short"}, wantErr: true},
		{name: "bad characters", cookies: map[string]string{"ndus": "abc def;1234567890abc"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authManager.ValidateSession(tt.cookies)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSession() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var teraboxErr *internal.TeraboxError
				if !errors.As(err, &teraboxErr) || teraboxErr.Type != internal.ErrAuthRequired {
					t.Errorf("Expected ErrAuthRequired, got %v", err)
				}
			}
		})
	}
}

func TestMergeCookies(t *testing.T) {
	static := map[string]string{"lang": "en", "PANWEB": "1"}
	loaded := map[string]string{"lang": "fr", "ndus": "abc"}

	merged := MergeCookies(static, loaded)

	if merged["lang"] != "fr" {
		t.Errorf("Expected loaded cookie to win, got lang=%s", merged["lang"])
	}
	if merged["PANWEB"] != "1" || merged["ndus"] != "abc" {
		t.Errorf("Unexpected merge result: %v", merged)
	}
	if static["lang"] != "en" {
		t.Error("MergeCookies modified the static set")
	}
}

func TestCookieAuthManager_Cleanup(t *testing.T) {
	cookieFile := writeCookieFile(t, ".terabox.com\tTRUE\t/\tFALSE\t0\tndus\tvalue\n")

	authManager := NewCookieAuthManager()
	if _, err := authManager.LoadCookies(cookieFile); err != nil {
		t.Fatalf("LoadCookies failed: %v", err)
	}

	authManager.Cleanup()
	if len(authManager.cookieStore) != 0 {
		t.Errorf("Expected empty cookie store after Cleanup, got %d", len(authManager.cookieStore))
	}
}
