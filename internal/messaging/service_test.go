package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/hunchunmed/leadbot/internal/models"
	"github.com/hunchunmed/leadbot/internal/whatsapp"
)

func TestCanonicalizeRecipient(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain digits", "79161234567", "79161234567", false},
		{"plus and spaces", "+7 916 123 45 67", "79161234567", false},
		{"dashes and parens", "+7 (916) 123-45-67", "79161234567", false},
		{"empty", "", "", true},
		{"no digits", "not-a-number", "", true},
		{"too short", "12345", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := canonicalizeRecipient(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("canonicalizeRecipient(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("canonicalizeRecipient(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestComposeBodyAffordanceFooters(t *testing.T) {
	bare := composeBody("Hello", models.NoAffordance)
	if bare != "Hello" {
		t.Errorf("no affordance should leave the body untouched, got %q", bare)
	}

	menu := composeBody("Hello", models.Affordance{Kind: models.AffordanceMainMenu})
	if !strings.Contains(menu, "/contact") || !strings.Contains(menu, "/operator") {
		t.Errorf("main menu footer should list the commands, got %q", menu)
	}

	invite := composeBody("Hello", models.Affordance{Kind: models.AffordancePrivateInvite, URL: "https://wa.me/70000000000"})
	if !strings.Contains(invite, "https://wa.me/70000000000") {
		t.Errorf("private invite should carry the deep link, got %q", invite)
	}

	// Invite without a URL degrades to the bare body.
	if got := composeBody("Hello", models.Affordance{Kind: models.AffordancePrivateInvite}); got != "Hello" {
		t.Errorf("invite without URL should render nothing, got %q", got)
	}
}

func TestWhatsAppServiceCanonicalization(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	got, err := service.ValidateAndCanonicalizeRecipient("+7 916 123-45-67")
	if err != nil || got != "79161234567" {
		t.Errorf("phone canonicalization: got (%q, %v)", got, err)
	}

	// Group JIDs pass through unchanged.
	group := "120363041234567890@g.us"
	got, err = service.ValidateAndCanonicalizeRecipient(group)
	if err != nil || got != group {
		t.Errorf("group JID should pass through, got (%q, %v)", got, err)
	}
}

func TestWhatsAppServiceSendText(t *testing.T) {
	mock := whatsapp.NewMockClient()
	service := NewWhatsAppService(mock)

	err := service.SendText(context.Background(), "79161234567", "Hello", models.Affordance{Kind: models.AffordanceSharePhone})
	if err != nil {
		t.Fatalf("SendText failed: %v", err)
	}
	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(mock.SentMessages))
	}
	sent := mock.SentMessages[0]
	if sent.To != "79161234567" {
		t.Errorf("To = %q", sent.To)
	}
	if !strings.HasPrefix(sent.Body, "Hello") || !strings.Contains(sent.Body, "phone number") {
		t.Errorf("body should carry the share-phone footer, got %q", sent.Body)
	}
}

func TestWhatsAppServiceSendMediaUnknownRef(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())
	if err := service.SendMedia(context.Background(), "79161234567", "media_missing", "x"); err == nil {
		t.Error("unknown media reference should fail")
	}
}

func TestWhatsAppServiceSendMediaFromCache(t *testing.T) {
	mock := whatsapp.NewMockClient()
	service := NewWhatsAppService(mock)

	ref := service.cacheMedia(&cachedMedia{kind: mediaImage, data: []byte{1, 2, 3}, mimeType: "image/jpeg"})
	if err := service.SendMedia(context.Background(), "79990000000", ref, "From Maria"); err != nil {
		t.Fatalf("SendMedia failed: %v", err)
	}
	if len(mock.SentImages) != 1 || mock.SentImages[0].Caption != "From Maria" || mock.SentImages[0].Size != 3 {
		t.Errorf("unexpected image send record: %+v", mock.SentImages)
	}
}

func TestMediaCacheEviction(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())

	first := service.cacheMedia(&cachedMedia{kind: mediaImage, data: []byte{0}})
	for i := 0; i < maxCachedMedia; i++ {
		service.cacheMedia(&cachedMedia{kind: mediaImage, data: []byte{byte(i)}})
	}

	service.mu.Lock()
	_, ok := service.media[first]
	size := len(service.media)
	service.mu.Unlock()
	if ok {
		t.Error("oldest entry should be evicted once the cache is full")
	}
	if size != maxCachedMedia {
		t.Errorf("cache size = %d, want %d", size, maxCachedMedia)
	}
}

func TestWhatsAppServiceEmitAfterStopDropsEvent(t *testing.T) {
	service := NewWhatsAppService(whatsapp.NewMockClient())
	if err := service.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// A late inbound message must be dropped, not panic on a closed channel.
	service.emit(models.IncomingEvent{From: "79161234567", Kind: models.EventText, Text: "late"})

	select {
	case event, ok := <-service.Events():
		if ok {
			t.Errorf("no event should be emitted after Stop, got %+v", event)
		}
	default:
	}
}

func TestVcardTelExtraction(t *testing.T) {
	vcard := "BEGIN:VCARD\nVERSION:3.0\nFN:Maria\nTEL;type=CELL:+7 916 123 45 67\nEND:VCARD"
	m := vcardTelRegex.FindStringSubmatch(vcard)
	if m == nil {
		t.Fatal("expected a TEL match")
	}
	if m[1] != "+7 916 123 45 67" {
		t.Errorf("extracted %q", m[1])
	}
}
