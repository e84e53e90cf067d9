package ingest

import "testing"

func TestBookingIDFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    int64
		wantErr bool
	}{
		{subject: "booking.update.42", want: 42},
		{subject: "booking.update.9007199254", want: 9007199254},
		{subject: "booking.update.", wantErr: true},
		{subject: "booking.update.abc", wantErr: true},
		{subject: "nodots", wantErr: true},
	}
	for _, tt := range tests {
		got, err := bookingIDFromSubject(tt.subject)
		if tt.wantErr {
			if err == nil {
				t.Errorf("bookingIDFromSubject(%q): expected error", tt.subject)
			}
			continue
		}
		if err != nil {
			t.Errorf("bookingIDFromSubject(%q): %v", tt.subject, err)
			continue
		}
		if got != tt.want {
			t.Errorf("bookingIDFromSubject(%q) = %d, want %d", tt.subject, got, tt.want)
		}
	}
}

func TestIdentityFromSubject(t *testing.T) {
	got, err := identityFromSubject("notify.user-17")
	if err != nil {
		t.Fatalf("identityFromSubject: %v", err)
	}
	if got != "user-17" {
		t.Fatalf("identity = %q, want user-17", got)
	}

	if _, err := identityFromSubject("notify."); err == nil {
		t.Fatal("expected error for empty identity token")
	}
	if _, err := identityFromSubject("bare"); err == nil {
		t.Fatal("expected error for subject without tokens")
	}
}
