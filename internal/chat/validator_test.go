package chat

import (
	"strings"
	"testing"
)

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		imageURL string
		videoURL string
		wantErr  bool
	}{
		{name: "plain text", text: "hello", wantErr: false},
		{name: "empty with no media", text: "", wantErr: true},
		{name: "empty with image", text: "", imageURL: "https://cdn.example.com/a.png", wantErr: false},
		{name: "empty with video", text: "", videoURL: "https://cdn.example.com/a.mp4", wantErr: false},
		{name: "at char limit", text: strings.Repeat("a", MaxTextChars), wantErr: false},
		{name: "over byte limit", text: strings.Repeat("a", MaxMessageBytes+1), wantErr: true},
		{name: "over char limit multibyte", text: strings.Repeat("é", MaxTextChars+1), wantErr: true},
		{name: "invalid utf8", text: "hi\xff\xfe", wantErr: true},
		{name: "image url too long", text: "hi", imageURL: strings.Repeat("x", MaxMediaURLLen+1), wantErr: true},
		{name: "video url too long", text: "hi", videoURL: strings.Repeat("x", MaxMediaURLLen+1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text, tt.imageURL, tt.videoURL)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage(%q, ...) error = %v, wantErr %v", tt.text, err, tt.wantErr)
			}
		})
	}
}
