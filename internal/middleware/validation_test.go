package middleware

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateBoxMetadata(t *testing.T) {
	tests := []struct {
		name        string
		boxName     string
		boxType     string
		description string
		uploader    string
		wantErr     error
	}{
		{
			name:    "minimal",
			boxName: "Box A",
		},
		{
			name:        "all fields",
			boxName:     "자료구조 기말",
			boxType:     "past-exam",
			description: "line one\nline two\ttabbed",
			uploader:    "kim",
		},
		{
			name:    "empty fields pass",
			wantErr: nil,
		},
		{
			name:    "name at limit",
			boxName: strings.Repeat("가", MaxBoxNameLength),
		},
		{
			name:    "name too long",
			boxName: strings.Repeat("가", MaxBoxNameLength+1),
			wantErr: ErrFieldTooLong,
		},
		{
			name:    "newline in name",
			boxName: "Box\nA",
			wantErr: ErrFieldControlChars,
		},
		{
			name:        "description too long",
			boxName:     "ok",
			description: strings.Repeat("d", MaxDescriptionLength+1),
			wantErr:     ErrFieldTooLong,
		},
		{
			name:     "control char in uploader",
			boxName:  "ok",
			uploader: "kim\x00",
			wantErr:  ErrFieldControlChars,
		},
		{
			name:    "invalid utf8",
			boxName: "bad\xff",
			wantErr: ErrFieldInvalidUTF8,
		},
		{
			name:    "type with space",
			boxName: "ok",
			boxType: "past exam",
			wantErr: ErrBoxTypeInvalid,
		},
		{
			name:    "type with slash",
			boxName: "ok",
			boxType: "a/b",
			wantErr: ErrBoxTypeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBoxMetadata(tt.boxName, tt.boxType, tt.description, tt.uploader)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateBoxMetadata() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBoxMetadata() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFileName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		wantErr  error
	}{
		{"plain", "report.pdf", nil},
		{"korean", "강의노트 1주차.pdf", nil},
		{"empty", "", nil},
		{"too long", strings.Repeat("a", MaxFileNameLength+1), ErrFieldTooLong},
		{"newline", "a\nb.txt", ErrFieldControlChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileName(tt.fileName)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFileName(%q) error = %v, want %v", tt.fileName, err, tt.wantErr)
			}
		})
	}
}
