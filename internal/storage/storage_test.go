package storage

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"spaces", "my report.pdf", "my_report.pdf"},
		{"korean", "점심 메뉴.hwp", "점심_메뉴.hwp"},
		{"unix path", "../../etc/passwd", "passwd"},
		{"windows path", `C:\Users\kim\notes.txt`, "notes.txt"},
		{"hidden file", ".env", "env"},
		{"dots only", "..", "file"},
		{"empty", "", "file"},
		{"symbols", "a<b>c:d?.txt", "a_b_c_d_.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeFileName(tt.in); got != tt.want {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFileName_Truncates(t *testing.T) {
	t.Parallel()

	got := SanitizeFileName(strings.Repeat("a", 500))
	if len([]rune(got)) != maxFileNameRunes {
		t.Errorf("len = %d, want %d", len([]rune(got)), maxFileNameRunes)
	}
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	got := ObjectKey("01HZX3K6Y0QF3M9D3W2B8E7RJT", 2, "menu card.png")
	want := "boxes/01HZX3K6Y0QF3M9D3W2B8E7RJT/2-menu_card.png"
	if got != want {
		t.Errorf("ObjectKey() = %q, want %q", got, want)
	}
	if err := validateKey(got); err != nil {
		t.Errorf("validateKey(ObjectKey()) = %v", err)
	}
}

func TestValidateKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		key     string
		wantErr error
	}{
		{"boxes/a/0-file.txt", nil},
		{"", ErrEmptyKey},
		{"/etc/passwd", ErrInvalidKey},
		{"boxes/../../secret", ErrInvalidKey},
		{`boxes\..\secret`, ErrInvalidKey},
		{"boxes/a..b/file", nil},
	}

	for _, tt := range tests {
		if err := validateKey(tt.key); !errors.Is(err, tt.wantErr) {
			t.Errorf("validateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
		}
	}
}
