package db

import (
	"errors"
	"testing"
	"time"
)

func result(seq int64, createdAt time.Time, success bool, status string) NotificationResult {
	return NotificationResult{
		Seq:            seq,
		Success:        success,
		DeliveryStatus: status,
		CreatedAt:      createdAt,
	}
}

func TestLatestResultOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		results []NotificationResult
		wantSeq int64
	}{
		{
			name: "newest created wins",
			results: []NotificationResult{
				result(1, base, false, DeliveryFailed),
				result(2, base.Add(time.Minute), true, DeliveryDelivered),
			},
			wantSeq: 2,
		},
		{
			name: "insertion order does not matter",
			results: []NotificationResult{
				result(2, base.Add(time.Minute), true, DeliveryDelivered),
				result(1, base, false, DeliveryFailed),
			},
			wantSeq: 2,
		},
		{
			name: "seq breaks created_at ties",
			results: []NotificationResult{
				result(7, base, true, DeliveryDelivered),
				result(9, base, false, DeliveryFailed),
				result(8, base, true, DeliveryDelivered),
			},
			wantSeq: 9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NotificationRecord{Results: tt.results}
			latest := rec.LatestResult()
			if latest == nil {
				t.Fatal("expected a latest result")
			}
			if latest.Seq != tt.wantSeq {
				t.Errorf("latest seq = %d, want %d", latest.Seq, tt.wantSeq)
			}
		})
	}
}

func TestLatestResultEmpty(t *testing.T) {
	rec := NotificationRecord{}
	if rec.LatestResult() != nil {
		t.Error("expected nil latest result for empty record")
	}
	if rec.WasSuccessful() {
		t.Error("record with no results must not count as successful")
	}
	if rec.CurrentDeliveryStatus() != "" {
		t.Error("expected empty delivery status")
	}
	if rec.CurrentError() != nil {
		t.Error("expected nil current error")
	}
}

func TestDerivedStatusFollowsLatest(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := "connection refused"
	delivered := base.Add(time.Minute)

	// A success followed by a newer failure: the record reads as failed.
	rec := NotificationRecord{Results: []NotificationResult{
		{Seq: 1, Success: true, DeliveryStatus: DeliveryDelivered, DeliveredAt: &delivered, CreatedAt: base},
		{Seq: 2, Success: false, DeliveryStatus: DeliveryFailed, ErrorMessage: &msg, CreatedAt: base.Add(time.Hour)},
	}}

	if rec.WasSuccessful() {
		t.Error("latest result is a failure")
	}
	if got := rec.CurrentDeliveryStatus(); got != DeliveryFailed {
		t.Errorf("delivery status = %q, want %q", got, DeliveryFailed)
	}
	if got := rec.CurrentError(); got == nil || *got != msg {
		t.Errorf("current error = %v, want %q", got, msg)
	}
	if rec.DeliveredAt() != nil {
		t.Error("failed latest result carries no delivery timestamp")
	}
}

func TestLatestResultDoesNotMutateRecord(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NotificationRecord{Results: []NotificationResult{
		result(2, base.Add(time.Minute), true, DeliveryDelivered),
		result(1, base, false, DeliveryFailed),
	}}

	rec.LatestResult()
	if rec.Results[0].Seq != 2 || rec.Results[1].Seq != 1 {
		t.Error("LatestResult must not reorder the stored results")
	}
}

func TestPrefersChannel(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subscriber
		channel Channel
		want    bool
	}{
		{"email opted in", Subscriber{PrefersEmail: true}, ChannelEmail, true},
		{"email opted out", Subscriber{PrefersSMS: true}, ChannelEmail, false},
		{"sms opted in", Subscriber{PrefersSMS: true}, ChannelSMS, true},
		{"push opted in", Subscriber{PrefersPush: true}, ChannelPush, true},
		{"all with one preference", Subscriber{PrefersPush: true}, ChannelAll, true},
		{"all with nothing enabled", Subscriber{}, ChannelAll, false},
		{"unknown channel", Subscriber{PrefersEmail: true}, Channel("fax"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.PrefersChannel(tt.channel); got != tt.want {
				t.Errorf("PrefersChannel(%q) = %v, want %v", tt.channel, got, tt.want)
			}
		})
	}
}

func TestParseChannel(t *testing.T) {
	for _, valid := range []string{"email", "sms", "push", "all"} {
		ch, err := ParseChannel(valid)
		if err != nil {
			t.Errorf("ParseChannel(%q) returned error: %v", valid, err)
		}
		if string(ch) != valid {
			t.Errorf("ParseChannel(%q) = %q", valid, ch)
		}
	}

	for _, invalid := range []string{"", "EMAIL", "webhook"} {
		if _, err := ParseChannel(invalid); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseChannel(%q) expected validation error, got %v", invalid, err)
		}
	}
}
