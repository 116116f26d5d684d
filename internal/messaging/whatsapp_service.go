package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/hunchunmed/leadbot/internal/models"
	"github.com/hunchunmed/leadbot/internal/util"
	"github.com/hunchunmed/leadbot/internal/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// maxCachedMedia bounds the inbound media cache used for operator forwarding.
const maxCachedMedia = 64

// vcardTelRegex extracts the phone number from a contact-card vCard payload.
var vcardTelRegex = regexp.MustCompile(`(?m)^TEL[^:]*:(.+)$`)

// mediaKind distinguishes cached media payloads.
type mediaKind int

const (
	mediaImage mediaKind = iota
	mediaDocument
)

// cachedMedia holds a downloaded inbound media payload for later forwarding.
type cachedMedia struct {
	kind     mediaKind
	data     []byte
	mimeType string
	fileName string
	seq      int64
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // full client for event handling, nil with mocks
	events   chan models.IncomingEvent
	done     chan struct{}

	mu       sync.Mutex
	media    map[string]*cachedMedia
	mediaSeq int64
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client: client,
		events: make(chan models.IncomingEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
		media:  make(map[string]*cachedMedia),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient.
// Group JIDs (containing '@') are passed through unchanged.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if _, err := types.ParseJID(recipient); err == nil && containsAt(recipient) {
		return recipient, nil
	}
	return canonicalizeRecipient(recipient)
}

func containsAt(s string) bool {
	for _, r := range s {
		if r == '@' {
			return true
		}
	}
	return false
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		default:
			// Ignore receipts, presence and connection events.
		}
	})
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing. The events channel closes after a short
// grace period so an emit already past the done guard can finish.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.events)
	}()
	return nil
}

// SendText sends a text message with a rendered affordance.
func (s *WhatsAppService) SendText(ctx context.Context, to string, body string, affordance models.Affordance) error {
	slog.Debug("WhatsAppService SendText invoked", "to", to, "body_length", len(body), "affordance", affordance.Kind)
	if err := s.client.SendMessage(ctx, to, composeBody(body, affordance)); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendMedia re-delivers a cached inbound media payload.
func (s *WhatsAppService) SendMedia(ctx context.Context, to string, mediaRef string, caption string) error {
	s.mu.Lock()
	item, ok := s.media[mediaRef]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown media reference %q", mediaRef)
	}

	var err error
	switch item.kind {
	case mediaImage:
		err = s.client.SendImage(ctx, to, item.data, item.mimeType, caption)
	case mediaDocument:
		err = s.client.SendDocument(ctx, to, item.data, item.mimeType, item.fileName, caption)
	}
	if err != nil {
		slog.Error("WhatsAppService SendMedia error", "error", err, "to", to, "ref", mediaRef)
		return err
	}
	return nil
}

// ResolveOwnIdentity returns the bot's own channel number.
func (s *WhatsAppService) ResolveOwnIdentity() (string, error) {
	if s.waClient == nil {
		return "", fmt.Errorf("own identity unavailable without a live client")
	}
	return s.waClient.OwnIdentity()
}

// Events returns the channel of normalized inbound events.
func (s *WhatsAppService) Events() <-chan models.IncomingEvent {
	return s.events
}

// handleIncomingMessage converts a whatsmeow message event into a normalized
// IncomingEvent and emits it.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}

	event := models.IncomingEvent{
		From:        evt.Info.Sender.User,
		Chat:        chatAddress(evt.Info),
		DisplayName: evt.Info.PushName,
		Group:       evt.Info.Chat.Server == types.GroupServer,
		Time:        evt.Info.Timestamp.Unix(),
	}

	msg := evt.Message
	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		event.Kind = models.EventPhoto
		event.Text = img.GetCaption()
		data, err := s.waClient.GetClient().Download(ctx, img)
		if err != nil {
			slog.Warn("WhatsAppService failed to download inbound image", "error", err, "from", event.From)
		} else {
			event.MediaRef = s.cacheMedia(&cachedMedia{kind: mediaImage, data: data, mimeType: img.GetMimetype()})
		}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		event.Kind = models.EventDocument
		event.Text = doc.GetCaption()
		event.FileName = doc.GetFileName()
		data, err := s.waClient.GetClient().Download(ctx, doc)
		if err != nil {
			slog.Warn("WhatsAppService failed to download inbound document", "error", err, "from", event.From)
		} else {
			event.MediaRef = s.cacheMedia(&cachedMedia{kind: mediaDocument, data: data, mimeType: doc.GetMimetype(), fileName: doc.GetFileName()})
		}
	case msg.GetContactMessage() != nil:
		contact := msg.GetContactMessage()
		event.Kind = models.EventContact
		event.Text = contact.GetDisplayName()
		if m := vcardTelRegex.FindStringSubmatch(contact.GetVcard()); m != nil {
			event.ContactPhone = m[1]
		}
	case msg.GetButtonsResponseMessage() != nil:
		event.Kind = models.EventButton
		event.Text = msg.GetButtonsResponseMessage().GetSelectedButtonID()
	case msg.GetConversation() != "":
		event.Kind = models.EventText
		event.Text = msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		event.Kind = models.EventText
		event.Text = msg.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", event.From)
		return
	}

	slog.Debug("WhatsAppService emitting inbound event", "from", event.From, "kind", event.Kind, "group", event.Group)
	s.emit(event)
}

// emit pushes an event into the events channel, dropping it when the service
// is stopped or the channel stays blocked.
func (s *WhatsAppService) emit(event models.IncomingEvent) {
	select {
	case <-s.done:
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", event.From)
		return
	default:
	}
	select {
	case s.events <- event:
	case <-s.done:
		slog.Warn("WhatsAppService dropping inbound event (service stopped)", "from", event.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService events channel blocked, dropping event", "from", event.From, "timeout", DefaultChannelTimeout)
	}
}

// cacheMedia stores a downloaded payload and returns its reference, evicting
// the oldest entry when the cache is full.
func (s *WhatsAppService) cacheMedia(item *cachedMedia) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaSeq++
	item.seq = s.mediaSeq
	ref := util.GenerateMediaRef()
	if len(s.media) >= maxCachedMedia {
		var oldestRef string
		var oldestSeq int64
		for r, m := range s.media {
			if oldestRef == "" || m.seq < oldestSeq {
				oldestRef, oldestSeq = r, m.seq
			}
		}
		delete(s.media, oldestRef)
	}
	s.media[ref] = item
	return ref
}

// chatAddress returns the address outbound replies should target: the group
// JID for group chats, the sender's number otherwise.
func chatAddress(info types.MessageInfo) string {
	if info.Chat.Server == types.GroupServer {
		return info.Chat.String()
	}
	return info.Sender.User
}
