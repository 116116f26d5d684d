// Package models defines the core data structures for leadbot.
//
// It includes the lead record, the append-only message log entry, inbound
// channel events, and notification kinds, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// Sender identifies which side of the conversation authored a log entry.
type Sender string

const (
	// SenderUser marks entries authored by the end user.
	SenderUser Sender = "user"
	// SenderAgent marks entries authored by the bot or an operator.
	SenderAgent Sender = "agent"
)

// EventKind describes the payload of an inbound channel event.
type EventKind string

const (
	// EventText is a plain text message.
	EventText EventKind = "text"
	// EventPhoto is an image message (e.g. an MRI scan photo).
	EventPhoto EventKind = "photo"
	// EventDocument is a file attachment (e.g. lab results).
	EventDocument EventKind = "document"
	// EventContact is a structured contact card carrying a phone number.
	EventContact EventKind = "contact"
	// EventButton is a button press carrying opaque callback data.
	EventButton EventKind = "button"
)

// NotificationKind classifies operator notifications.
type NotificationKind string

const (
	// NotificationNewContact signals a first-time user.
	NotificationNewContact NotificationKind = "new_contact"
	// NotificationLeadProgress signals an intake-stage advance (name,
	// problem, media or phone captured).
	NotificationLeadProgress NotificationKind = "lead_progress"
	// NotificationOperatorRequest signals an explicit help request.
	NotificationOperatorRequest NotificationKind = "operator_request"
	// NotificationTakeover confirms a manual takeover.
	NotificationTakeover NotificationKind = "takeover_confirmed"
)

// Error variables shared across modules for contract violations.
var (
	// ErrLeadNotFound is returned by store update operations targeting an
	// identity that was never created. Callers must create the record first;
	// hitting this error mid-update is a programming error, not user input.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrDuplicateLead is returned when creating a lead whose identity exists.
	ErrDuplicateLead = errors.New("lead already exists")
	// ErrEmptyIdentity is returned when an operation is missing the identity.
	ErrEmptyIdentity = errors.New("identity cannot be empty")
	// ErrUnauthorized is returned for takeover attempts by a non-operator.
	ErrUnauthorized = errors.New("requester is not the configured operator")
)

// LeadRecord is the per-identity conversation state. One record exists per
// end user; records are created on first contact and never deleted. A reset
// clears the transient fields but keeps the identity and its message log.
type LeadRecord struct {
	// Identity is the stable external user id (canonical channel number).
	Identity string `json:"identity"`
	// DisplayName is the name the user introduced themselves with.
	DisplayName string `json:"display_name,omitempty"`
	// Handle is the user's channel handle, when the channel exposes one.
	Handle string `json:"handle,omitempty"`
	// ChatAddress is where outbound messages for this lead are delivered.
	ChatAddress string `json:"chat_address"`
	// Phone is the captured contact number, empty until captured.
	Phone string `json:"phone,omitempty"`

	// Stage flags. In the steady intake flow at most one is set, but
	// transient overlap during a multi-field update is tolerated; the
	// sequencer relies on the ordering of store mutations, not on strict
	// mutual exclusion.
	AwaitingName    bool `json:"awaiting_name"`
	AwaitingProblem bool `json:"awaiting_problem"`
	AwaitingPhone   bool `json:"awaiting_phone"`

	// Silenced suppresses automated replies until an activation keyword or
	// the silence sweep clears it. Orthogonal to the stage flags.
	Silenced   bool       `json:"silenced"`
	SilencedAt *time.Time `json:"silenced_at,omitempty"`

	// LastHandoffAt is the time of the most recent transfer to a human.
	LastHandoffAt *time.Time `json:"last_handoff_at,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	// HistorySnapshot is an advisory serialized digest of recent turns used
	// as generator context. The message log is authoritative.
	HistorySnapshot string `json:"history_snapshot,omitempty"`
}

// AwaitingMediaOrPhone reports the derived intermediate stage: the user has
// passed the name and problem stages but no phone has been captured yet.
// Deliberately a pure function of the other fields rather than a fourth flag.
func (r *LeadRecord) AwaitingMediaOrPhone() bool {
	return !r.AwaitingName && !r.AwaitingProblem && r.Phone == ""
}

// MessageEntry is one entry of a lead's append-only message log. Entries are
// immutable once created and ordered by timestamp.
type MessageEntry struct {
	ID       int64     `json:"id"`
	LeadID   string    `json:"lead_id"`
	Sender   Sender    `json:"sender"`
	Text     string    `json:"text"`
	Occurred time.Time `json:"occurred"`
}

// IncomingEvent is a normalized inbound channel event, produced by the
// transport layer and consumed by the sequencer.
type IncomingEvent struct {
	// From is the sender identity (canonical number).
	From string `json:"from"`
	// Chat is the channel address the event arrived on. For group chats
	// this differs from the sender identity.
	Chat string `json:"chat"`
	// DisplayName and Handle are the sender labels the channel exposes.
	DisplayName string `json:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty"`

	Kind EventKind `json:"kind"`
	// Text carries the message body for text events, the caption for media
	// events, and the callback data for button events.
	Text string `json:"text,omitempty"`
	// MediaRef is a transport-level reference to the photo/document payload.
	MediaRef string `json:"media_ref,omitempty"`
	// FileName is set for document events when the channel provides one.
	FileName string `json:"file_name,omitempty"`
	// ContactPhone is the phone number from a contact-card event.
	ContactPhone string `json:"contact_phone,omitempty"`

	// Group marks events originating in a multi-party chat.
	Group bool `json:"group"`

	Time int64 `json:"time"`
}

// AffordanceKind selects the interaction affordance attached to an outbound
// message. Transports render affordances in a channel-appropriate way.
type AffordanceKind string

const (
	// AffordanceNone sends the bare message.
	AffordanceNone AffordanceKind = ""
	// AffordanceMainMenu attaches the standard action menu.
	AffordanceMainMenu AffordanceKind = "main_menu"
	// AffordanceLeaveContact attaches the leave-contact action.
	AffordanceLeaveContact AffordanceKind = "leave_contact"
	// AffordanceSharePhone attaches the share-phone-number action.
	AffordanceSharePhone AffordanceKind = "share_phone"
	// AffordanceOperatorContacts attaches the operator contact links.
	AffordanceOperatorContacts AffordanceKind = "operator_contacts"
	// AffordancePrivateInvite attaches a deep link to the private chat.
	AffordancePrivateInvite AffordanceKind = "private_invite"
)

// Affordance pairs an affordance kind with an optional target URL (used by
// AffordancePrivateInvite).
type Affordance struct {
	Kind AffordanceKind `json:"kind"`
	URL  string         `json:"url,omitempty"`
}

// NoAffordance is the zero affordance for bare sends.
var NoAffordance = Affordance{Kind: AffordanceNone}
