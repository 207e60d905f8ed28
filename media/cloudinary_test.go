package media

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestUploaderWithoutCredentials(t *testing.T) {
	u, err := NewUploader("", "fixnearby/repairers")
	if err != nil {
		t.Fatalf("NewUploader: %v", err)
	}
	_, err = u.UploadProfilePhoto(context.Background(), 1, strings.NewReader("jpeg"), "me.jpg")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("got %v, want ErrNotConfigured", err)
	}
}

