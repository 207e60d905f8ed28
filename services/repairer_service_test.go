package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"fixnearby-server/models"
)

type stubUploader struct {
	got string
}

func (u *stubUploader) UploadProfilePhoto(_ context.Context, repairerID uint, file io.Reader, filename string) (string, error) {
	b, _ := io.ReadAll(file)
	u.got = string(b)
	return "https://res.cloudinary.com/demo/profile.jpg", nil
}

func TestRepairerServices(t *testing.T) {
	w := newWorld(t)
	s := w.repairer("9123456780", "560001", "Plumbing")
	svc := NewRepairerService(w.store, nil)

	r, err := svc.AddService(w.ctx, s, models.RepairerService{Name: "electrical", VisitingCharge: 250})
	if err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if !r.Offers("Electrical") || len(r.Services) != 2 {
		t.Errorf("expected electrical to be added, got %+v", r.Services)
	}
	_, err = svc.AddService(w.ctx, s, models.RepairerService{Name: "Plumbing"})
	mustErr(t, err, ErrConflict)

	r, err = svc.UpdateService(w.ctx, s, "plumbing", 300)
	if err != nil {
		t.Fatalf("UpdateService: %v", err)
	}
	if c, _ := r.VisitingCharge("Plumbing"); c != 300 {
		t.Errorf("expected charge 300, got %.2f", c)
	}

	if _, err := svc.RemoveService(w.ctx, s, "Plumbing"); err != nil {
		t.Fatalf("RemoveService: %v", err)
	}
	_, err = svc.RemoveService(w.ctx, s, "Electrical")
	mustErr(t, err, ErrValidation)
	_, err = svc.RemoveService(w.ctx, s, "Painting")
	mustErr(t, err, ErrNotFound)
}

func TestRepairerProfileAndPreferences(t *testing.T) {
	w := newWorld(t)
	s := w.repairer("9123456780", "560001", "Plumbing")
	uploader := &stubUploader{}
	svc := NewRepairerService(w.store, uploader)

	lat := 12.97
	_, err := svc.UpdateProfile(w.ctx, s, models.RepairerProfileUpdate{Latitude: &lat})
	mustErr(t, err, ErrValidation)

	off := false
	r, err := svc.UpdateProfile(w.ctx, s, models.RepairerProfileUpdate{IsAvailable: &off})
	if err != nil || r.IsAvailable {
		t.Fatalf("expected repairer to go unavailable (%v)", err)
	}

	prefs := models.DefaultRepairerPreferences()
	prefs.ServiceRadiusKm = 500
	_, err = svc.UpdatePreferences(w.ctx, s, prefs)
	mustErr(t, err, ErrValidation)

	prefs.ServiceRadiusKm = 25
	prefs.NotifyMessages = false
	r, err = svc.UpdatePreferences(w.ctx, s, prefs)
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if r.Preferences.ServiceRadiusKm != 25 || r.Preferences.NotifyMessages {
		t.Errorf("unexpected preferences %+v", r.Preferences)
	}

	r, err = svc.UploadPhoto(w.ctx, s, strings.NewReader("jpegdata"), "me.jpg")
	if err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	if r.ProfilePhotoURL == nil || uploader.got != "jpegdata" {
		t.Error("expected photo to be uploaded and stored")
	}

	_, err = svc.Profile(w.ctx, w.customer("9876543210"))
	mustErr(t, err, ErrMissingRepairer)
}

func TestSetActiveIsAdminOnly(t *testing.T) {
	w := newWorld(t)
	s := w.repairer("9123456780", "560001", "Plumbing")
	svc := NewRepairerService(w.store, nil)

	_, err := svc.SetActive(w.ctx, s, s.SubjectID(), false)
	mustErr(t, err, ErrForbidden)

	r, err := svc.SetActive(w.ctx, models.AdminSession(1), s.SubjectID(), false)
	if err != nil || r.IsActive {
		t.Fatalf("expected deactivated repairer (%v)", err)
	}
}
