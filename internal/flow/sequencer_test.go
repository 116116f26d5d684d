package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hunchunmed/leadbot/internal/models"
	"github.com/hunchunmed/leadbot/internal/store"
)

const (
	testOperator = "79990000000"
	testLead     = "79161234567"
)

type sentText struct {
	To         string
	Body       string
	Affordance models.Affordance
}

type sentMedia struct {
	To      string
	Ref     string
	Caption string
}

// mockService records outbound traffic for assertions.
type mockService struct {
	mu      sync.Mutex
	texts   []sentText
	media   []sentMedia
	events  chan models.IncomingEvent
	sendErr error
}

func newMockService() *mockService {
	return &mockService{events: make(chan models.IncomingEvent, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (m *mockService) SendText(ctx context.Context, to, body string, affordance models.Affordance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.texts = append(m.texts, sentText{To: to, Body: body, Affordance: affordance})
	return nil
}

func (m *mockService) SendMedia(ctx context.Context, to, mediaRef, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.media = append(m.media, sentMedia{To: to, Ref: mediaRef, Caption: caption})
	return nil
}

func (m *mockService) ResolveOwnIdentity() (string, error) { return "70000000000", nil }
func (m *mockService) Start(ctx context.Context) error     { return nil }
func (m *mockService) Stop() error                         { return nil }
func (m *mockService) Events() <-chan models.IncomingEvent { return m.events }

func (m *mockService) textsTo(to string) []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentText
	for _, s := range m.texts {
		if s.To == to {
			out = append(out, s)
		}
	}
	return out
}

func (m *mockService) lastTextTo(t *testing.T, to string) sentText {
	t.Helper()
	texts := m.textsTo(to)
	if len(texts) == 0 {
		t.Fatalf("no messages sent to %s", to)
	}
	return texts[len(texts)-1]
}

// stubGen is a canned reply generator.
type stubGen struct {
	reply string
	err   error
	calls int
}

func (g *stubGen) GenerateReply(ctx context.Context, userText, displayName, history string, group bool) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	if g.reply == "" {
		return "Generated reply", nil
	}
	return g.reply, nil
}

func (g *stubGen) GenerateCommandReply(ctx context.Context, command, displayName string) (string, error) {
	g.calls++
	return "Command reply", nil
}

func newTestSequencer(gen *stubGen) (*Sequencer, *store.InMemoryStore, *mockService) {
	st := store.NewInMemoryStore()
	svc := newMockService()
	seq := NewSequencer(st, svc, gen, testOperator, WithFollowUpDelay(5*time.Millisecond))
	return seq, st, svc
}

func textEvent(from, text string) models.IncomingEvent {
	return models.IncomingEvent{From: from, Chat: from, Kind: models.EventText, Text: text, Time: time.Now().Unix()}
}

func mustHandle(t *testing.T, seq *Sequencer, event models.IncomingEvent) {
	t.Helper()
	if err := seq.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
}

func mustGetLead(t *testing.T, st *store.InMemoryStore, identity string) *models.LeadRecord {
	t.Helper()
	lead, err := st.GetLead(identity)
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if lead == nil {
		t.Fatalf("lead %s not found", identity)
	}
	return lead
}

func TestFirstContactCreatesLead(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})

	mustHandle(t, seq, textEvent(testLead, "hi there"))

	lead := mustGetLead(t, st, testLead)
	if !lead.AwaitingName {
		t.Error("new lead should be awaiting name")
	}
	if lead.AwaitingProblem || lead.AwaitingPhone || lead.Silenced {
		t.Error("new lead should have no other flags set")
	}

	if got := svc.lastTextTo(t, testLead).Body; got != msgAskName {
		t.Errorf("greeting = %q, want ask-name prompt", got)
	}

	// Exactly one new-contact notification.
	notifications := 0
	for _, s := range svc.textsTo(testOperator) {
		if strings.Contains(s.Body, string(models.NotificationNewContact)) {
			notifications++
		}
	}
	if notifications != 1 {
		t.Errorf("expected exactly 1 new-contact notification, got %d", notifications)
	}
}

// The full intake funnel: greeting, name, problem, photo, phone.
func TestIntakeFunnel(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	ctx := context.Background()

	mustHandle(t, seq, textEvent(testLead, "hello"))
	mustHandle(t, seq, textEvent(testLead, "Maria"))

	lead := mustGetLead(t, st, testLead)
	if lead.DisplayName != "Maria" {
		t.Errorf("DisplayName = %q, want Maria", lead.DisplayName)
	}
	if lead.AwaitingName || !lead.AwaitingProblem {
		t.Errorf("after name: awaitingName=%v awaitingProblem=%v, want false/true", lead.AwaitingName, lead.AwaitingProblem)
	}

	mustHandle(t, seq, textEvent(testLead, "my knee hurts and it has been swollen for two weeks"))
	lead = mustGetLead(t, st, testLead)
	if lead.AwaitingProblem {
		t.Error("problem stage should be cleared")
	}
	if !lead.AwaitingMediaOrPhone() {
		t.Error("lead should be in the derived media-or-phone stage")
	}
	if got := svc.lastTextTo(t, testLead).Body; got != msgAskMedia {
		t.Errorf("after problem: got %q, want media request", got)
	}

	photo := models.IncomingEvent{From: testLead, Chat: testLead, Kind: models.EventPhoto, MediaRef: "ref1"}
	if err := seq.HandleEvent(ctx, photo); err != nil {
		t.Fatalf("photo event failed: %v", err)
	}
	lead = mustGetLead(t, st, testLead)
	if !lead.AwaitingPhone {
		t.Error("first media item should arm the phone stage")
	}
	if got := svc.lastTextTo(t, testLead).Body; got != msgAskPhone {
		t.Errorf("after photo: got %q, want phone request", got)
	}
	if len(svc.media) != 1 || svc.media[0].To != testOperator || svc.media[0].Ref != "ref1" {
		t.Errorf("photo should be forwarded to operator, got %+v", svc.media)
	}

	mustHandle(t, seq, textEvent(testLead, "+7 912 345 67 89"))
	lead = mustGetLead(t, st, testLead)
	if lead.Phone != "+7 912 345 67 89" {
		t.Errorf("Phone = %q", lead.Phone)
	}
	if lead.AwaitingPhone {
		t.Error("phone stage should be cleared after capture")
	}
	thanks := svc.lastTextTo(t, testLead)
	if thanks.Affordance.Kind != models.AffordanceOperatorContacts || !strings.Contains(thanks.Affordance.URL, "wa.me/"+testOperator) {
		t.Errorf("thank-you should carry the operator contact link, got %+v", thanks.Affordance)
	}

	// Deferred follow-up fires shortly after capture.
	time.Sleep(40 * time.Millisecond)
	if got := svc.lastTextTo(t, testLead).Body; got != msgFollowUp {
		t.Errorf("expected deferred follow-up, got %q", got)
	}
}

func TestPhoneRetryOnMalformedInput(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	lead, _ := st.CreateLead(models.LeadRecord{Identity: testLead, ChatAddress: testLead, AwaitingPhone: true, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "I'll send it later"))

	got := mustGetLead(t, st, lead.Identity)
	if !got.AwaitingPhone || got.Phone != "" {
		t.Error("malformed phone input must not transition state")
	}
	if body := svc.lastTextTo(t, testLead).Body; body != msgPhoneRetry {
		t.Errorf("expected retry prompt, got %q", body)
	}
	// The failed attempt is not stored as a generic message.
	msgs, _ := st.ListMessages(testLead, 0)
	if len(msgs) != 0 {
		t.Errorf("message log should stay empty, got %d entries", len(msgs))
	}
}

func TestSilencedLeadWithoutKeywordIsSuppressed(t *testing.T) {
	gen := &stubGen{}
	seq, st, svc := newTestSequencer(gen)
	st.CreateLead(models.LeadRecord{Identity: testLead, ChatAddress: testLead, Silenced: true, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "ok then"))

	if len(svc.textsTo(testLead)) != 0 {
		t.Error("suppressed event must not produce an outbound reply")
	}
	if gen.calls != 0 {
		t.Error("suppressed event must not reach the generator")
	}
	lead := mustGetLead(t, st, testLead)
	if !lead.Silenced {
		t.Error("lead should stay silenced")
	}
}

func TestSilencedLeadReactivatesOnKeyword(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{reply: "Welcome back"})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, Silenced: true, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "I would like to book an appointment"))

	lead := mustGetLead(t, st, testLead)
	if lead.Silenced {
		t.Error("keyword should clear the silenced flag")
	}
	texts := svc.textsTo(testLead)
	if len(texts) < 2 || texts[0].Body != msgReactivated {
		t.Fatalf("expected reactivation notice then normal processing, got %+v", texts)
	}
}

func TestGroupMessageWithoutKeywordNeverCreatesLead(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	event := textEvent(testLead, "anyone up for lunch?")
	event.Group = true
	event.Chat = "12036304@g.us"

	mustHandle(t, seq, event)

	lead, err := st.GetLead(testLead)
	if err != nil {
		t.Fatalf("GetLead failed: %v", err)
	}
	if lead != nil {
		t.Error("group chatter must not create a lead record")
	}
	if len(svc.texts) != 0 {
		t.Error("group chatter must not produce any outbound traffic")
	}
}

func TestMedicalKeywordRoutesToMediaRequest(t *testing.T) {
	gen := &stubGen{}
	seq, st, svc := newTestSequencer(gen)
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "my tooth really hurts at night"))

	if got := svc.lastTextTo(t, testLead).Body; got != msgAskMedia {
		t.Errorf("medical keyword should trigger media request, got %q", got)
	}
	if gen.calls != 0 {
		t.Error("medical keyword routing must bypass the generator")
	}
}

func TestOpportunisticPhoneCapture(t *testing.T) {
	seq, st, _ := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	// No awaitingPhone flag, number embedded in ordinary text.
	mustHandle(t, seq, textEvent(testLead, "you can reach me on +7 912 345 67 89 anytime"))

	lead := mustGetLead(t, st, testLead)
	if lead.Phone == "" {
		t.Error("embedded phone number should be captured regardless of stage")
	}
}

func TestContactCardOverwritesScannedPhone(t *testing.T) {
	seq, st, _ := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "call +7 912 345 67 89"))
	contact := models.IncomingEvent{From: testLead, Chat: testLead, Kind: models.EventContact, ContactPhone: "+7 999 111 22 33"}
	mustHandle(t, seq, contact)

	lead := mustGetLead(t, st, testLead)
	if lead.Phone != "+7 999 111 22 33" {
		t.Errorf("contact payload should overwrite scanned phone (last write wins), got %q", lead.Phone)
	}
}

func TestResetPreservesIdentityAndLog(t *testing.T) {
	seq, st, _ := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, Phone: "+79123456789", Silenced: true, HistorySnapshot: "old", RegisteredAt: time.Now()})
	st.AppendMessage(testLead, models.SenderUser, "my knee hurts")

	mustHandle(t, seq, textEvent(testLead, "/reset"))

	lead := mustGetLead(t, st, testLead)
	if !lead.AwaitingName {
		t.Error("reset should re-arm the name stage")
	}
	if lead.Silenced || lead.HistorySnapshot != "" || lead.Phone != "" {
		t.Errorf("reset should clear silence, snapshot and phone: %+v", lead)
	}
	msgs, _ := st.ListMessages(testLead, 0)
	if len(msgs) != 1 {
		t.Errorf("reset must not touch the message log, got %d entries", len(msgs))
	}
}

func TestContactCommandReadinessGate(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})
	st.AppendMessage(testLead, models.SenderUser, strings.Repeat("a", 80))

	mustHandle(t, seq, textEvent(testLead, "/contact"))
	lead := mustGetLead(t, st, testLead)
	if lead.AwaitingPhone {
		t.Error("one prior message should refuse contact collection")
	}
	if got := svc.lastTextTo(t, testLead).Body; got != msgNotReady {
		t.Errorf("expected readiness refusal, got %q", got)
	}

	st.AppendMessage(testLead, models.SenderUser, strings.Repeat("b", 30))
	mustHandle(t, seq, textEvent(testLead, "/contact"))
	lead = mustGetLead(t, st, testLead)
	if !lead.AwaitingPhone {
		t.Error("two messages over the threshold should arm the phone stage")
	}
}

func TestTransferMarkerMarksHandoff(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{reply: "Of course. " + MarkerTransfer + "."})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, Phone: "+79123456789", RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "can a specialist call me back?"))

	lead := mustGetLead(t, st, testLead)
	if lead.LastHandoffAt == nil {
		t.Error("transfer marker should timestamp the handoff")
	}
	if got := svc.lastTextTo(t, testLead).Affordance.Kind; got != models.AffordanceLeaveContact {
		t.Errorf("transfer reply affordance = %q, want leave-contact", got)
	}
}

func TestSilenceMarkerMutesLead(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{reply: "No problem. " + MarkerSilence + "."})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, Phone: "+79123456789", RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "please stop writing for now"))

	lead := mustGetLead(t, st, testLead)
	if !lead.Silenced {
		t.Error("silence marker should mute the lead")
	}
	if lead.SilencedAt == nil {
		t.Error("silencing should record the timestamp for the expiry sweep")
	}
	if got := svc.lastTextTo(t, testLead).Affordance.Kind; got != models.AffordanceNone {
		t.Errorf("silence reply should carry no affordance, got %q", got)
	}
}

func TestResetMarkerClearsSnapshot(t *testing.T) {
	seq, st, _ := newTestSequencer(&stubGen{reply: "Of course, " + MarkerReset + "!"})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, Phone: "+79123456789", HistorySnapshot: "User: hello", RegisteredAt: time.Now()})
	st.AppendMessage(testLead, models.SenderUser, "hello")
	st.AppendMessage(testLead, models.SenderUser, "my knee hurts when walking")

	mustHandle(t, seq, textEvent(testLead, "can we start from the beginning?"))

	lead := mustGetLead(t, st, testLead)
	if !lead.AwaitingName {
		t.Error("reset marker should re-arm the name stage")
	}
	if lead.HistorySnapshot != "" {
		t.Errorf("reset marker must leave the snapshot empty, got %q", lead.HistorySnapshot)
	}
	// The log is append-only and survives: two seed entries, the trigger
	// text, and the reset reply.
	msgs, _ := st.ListMessages(testLead, 0)
	if len(msgs) != 4 {
		t.Errorf("expected 4 log entries, got %d", len(msgs))
	}
}

func TestMediaCountWindowed(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	// One old media marker pushed out of the recent window by filler.
	st.AppendMessage(testLead, models.SenderUser, "[photo]")
	for i := 0; i < historyWindow; i++ {
		st.AppendMessage(testLead, models.SenderUser, "still thinking about it")
	}

	photo := models.IncomingEvent{From: testLead, Chat: testLead, Kind: models.EventPhoto, MediaRef: "ref2"}
	mustHandle(t, seq, photo)

	// Within the window this is the first media item, so the full phone
	// request goes out rather than the have-more re-prompt.
	if got := svc.lastTextTo(t, testLead).Body; got != msgAskPhone {
		t.Errorf("expected first-media phone request, got %q", got)
	}
}

func TestTakeover(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	ctx := context.Background()

	// Unknown target: failure, no mutation.
	if err := seq.Takeover(ctx, testOperator, "70000011111"); !errors.Is(err, models.ErrLeadNotFound) {
		t.Errorf("takeover of unknown target: got %v, want ErrLeadNotFound", err)
	}
	if len(seq.Overrides().List()) != 0 {
		t.Error("failed takeover must not mutate the override set")
	}

	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	// Wrong requester.
	if err := seq.Takeover(ctx, testLead, testLead); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("takeover by non-operator: got %v, want ErrUnauthorized", err)
	}

	// Success.
	if err := seq.Takeover(ctx, testOperator, testLead); err != nil {
		t.Fatalf("takeover failed: %v", err)
	}
	if !seq.Overrides().Contains(testLead) {
		t.Error("takeover should add the lead to the override set")
	}
	if got := svc.lastTextTo(t, testLead).Body; got != msgOperatorJoined {
		t.Errorf("lead should be told an operator joined, got %q", got)
	}
}

func TestOverrideBypassesStateMachine(t *testing.T) {
	gen := &stubGen{}
	seq, st, svc := newTestSequencer(gen)
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, AwaitingName: true, RegisteredAt: time.Now()})
	seq.Overrides().Add(testLead)

	mustHandle(t, seq, textEvent(testLead, "is the doctor there?"))

	// Text goes to the operator, nothing to the lead, no generator call.
	if len(svc.textsTo(testLead)) != 0 {
		t.Error("overridden lead must not receive automated replies")
	}
	ops := svc.textsTo(testOperator)
	if len(ops) != 1 || !strings.Contains(ops[0].Body, "is the doctor there?") {
		t.Errorf("lead text should be forwarded to the operator, got %+v", ops)
	}
	if gen.calls != 0 {
		t.Error("override must bypass the generator")
	}
	// Stage flags untouched.
	lead := mustGetLead(t, st, testLead)
	if !lead.AwaitingName {
		t.Error("override must not advance the state machine")
	}
}

func TestOperatorRelay(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testOperator, "@"+testLead+" Hello, this is Dr. Kim"))

	if got := svc.lastTextTo(t, testLead).Body; got != "Hello, this is Dr. Kim" {
		t.Errorf("relay should forward text verbatim, got %q", got)
	}
	if !seq.Overrides().Contains(testLead) {
		t.Error("relay should put the lead under manual control")
	}

	// Relay to unknown identity is acknowledged as a failure, not fatal.
	mustHandle(t, seq, textEvent(testOperator, "@70000011111 hi"))
	if got := svc.lastTextTo(t, testOperator).Body; !strings.Contains(got, "Failed") {
		t.Errorf("operator should get a failure acknowledgment, got %q", got)
	}
}

func TestOperatorAlertCommand(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "/operator please call me urgently"))

	ops := svc.textsTo(testOperator)
	if len(ops) != 1 || !strings.Contains(ops[0].Body, "please call me urgently") {
		t.Errorf("operator alert should carry the trailing text, got %+v", ops)
	}
	if got := svc.lastTextTo(t, testLead).Body; got != msgOperatorAlertSent {
		t.Errorf("lead should get a confirmation, got %q", got)
	}
}

func TestOperatorUnreachableSurfacesToLead(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	svc.sendErr = errors.New("network down")
	mustHandle(t, seq, textEvent(testLead, "/operator help"))

	svc.mu.Lock()
	svc.sendErr = nil
	svc.mu.Unlock()
	// The unreachable notice itself could not be delivered either; handling
	// must still complete without error, which mustHandle already asserted.
	if len(svc.textsTo(testOperator)) != 0 {
		t.Error("no operator message should have been recorded while sends fail")
	}
}

func TestLeaveContactButtonHonorsReadiness(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})
	st.AppendMessage(testLead, models.SenderUser, "my knee hurts when walking")
	st.AppendMessage(testLead, models.SenderUser, "it started about two months ago")

	button := models.IncomingEvent{From: testLead, Chat: testLead, Kind: models.EventButton, Text: ButtonLeaveContact}
	mustHandle(t, seq, button)

	lead := mustGetLead(t, st, testLead)
	if !lead.AwaitingPhone {
		t.Error("ready lead pressing leave-contact should arm the phone stage")
	}
	if got := svc.lastTextTo(t, testLead).Body; got != msgAskPhone {
		t.Errorf("expected phone request, got %q", got)
	}
}

func TestInfoButtonsAnswerWithTemplates(t *testing.T) {
	seq, st, svc := newTestSequencer(&stubGen{})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, RegisteredAt: time.Now()})

	tests := []struct {
		button string
		want   string
	}{
		{ButtonPrices, msgPriceInfo},
		{ButtonClinics, msgClinicsInfo},
		{ButtonTour, msgTourInfo},
	}
	for _, tt := range tests {
		mustHandle(t, seq, models.IncomingEvent{From: testLead, Chat: testLead, Kind: models.EventButton, Text: tt.button})
		if got := svc.lastTextTo(t, testLead).Body; got != tt.want {
			t.Errorf("button %s: got %q", tt.button, got)
		}
	}
}

func TestGeneratedReplySavedToLogAndSnapshot(t *testing.T) {
	seq, st, _ := newTestSequencer(&stubGen{reply: "We treat knees very well."})
	st.CreateLead(models.LeadRecord{Identity: testLead, DisplayName: "Maria", ChatAddress: testLead, Phone: "+79123456789", RegisteredAt: time.Now()})

	mustHandle(t, seq, textEvent(testLead, "tell me about your services"))

	msgs, _ := st.ListMessages(testLead, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected user + agent entries, got %d", len(msgs))
	}
	if msgs[0].Sender != models.SenderUser || msgs[1].Sender != models.SenderAgent {
		t.Errorf("unexpected log order: %+v", msgs)
	}
	lead := mustGetLead(t, st, testLead)
	if !strings.Contains(lead.HistorySnapshot, "We treat knees very well.") {
		t.Error("history snapshot should include the agent reply")
	}
}
