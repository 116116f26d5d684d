// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in leadbot.
//
// It provides methods for sending text and media messages and exposes the
// underlying client for event handling.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hunchunmed/leadbot/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/leadbot/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Sender is the outbound WhatsApp contract consumed by the messaging service
// (implemented by Client in production and MockClient in tests).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendImage(ctx context.Context, to string, data []byte, mimeType, caption string) error
	SendDocument(ctx context.Context, to string, data []byte, mimeType, fileName, caption string) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to use a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient creates a new WhatsApp client, applying any provided options.
// When no session exists it runs the QR (or numeric code) login flow.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}

	// Auto-detect database driver based on DSN
	var dbDriver string
	if store.DetectDSNType(dbDSN) == "postgres" {
		dbDriver = "postgres"
	} else {
		dbDriver = "sqlite3"
		// whatsmeow strongly recommends foreign keys for its SQLite store
		if !strings.Contains(dbDSN, "_foreign_keys") && !strings.Contains(dbDSN, "foreign_keys") {
			slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled; consider adding '?_foreign_keys=on' to the connection string",
				"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
		}
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver, "dsn_set", dbDSN != "")
	ctx := context.Background()
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get first device from store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(context.Background())
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				slog.Error("Failed to create QR file", "error", ferr)
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				slog.Debug("WhatsApp login event code received")
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
			} else {
				slog.Debug("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}
	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

// recipientJID resolves an outbound address: full JIDs (group chats) are
// parsed as-is, bare numbers get the regular user suffix.
func recipientJID(to string) types.JID {
	if strings.ContainsRune(to, '@') {
		if jid, err := types.ParseJID(to); err == nil {
			return jid
		}
	}
	return types.NewJID(to, JIDSuffix)
}

// SendMessage sends a WhatsApp text message to the specified recipient.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return fmt.Errorf("recipient cannot be empty")
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}

	slog.Debug("Sending WhatsApp message", "to", to, "body_length", len(body))
	jid := recipientJID(to)
	msg := &waE2E.Message{Conversation: &body}

	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", to)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// SendImage uploads and sends an image with an optional caption.
func (c *Client) SendImage(ctx context.Context, to string, data []byte, mimeType, caption string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if len(data) == 0 {
		return fmt.Errorf("image data cannot be empty")
	}

	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		slog.Error("Failed to upload WhatsApp image", "error", err, "to", to)
		return fmt.Errorf("failed to upload image for %s: %w", to, err)
	}

	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mimeType),
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}
	if _, err := c.waClient.SendMessage(ctx, recipientJID(to), msg); err != nil {
		slog.Error("Failed to send WhatsApp image", "error", err, "to", to)
		return fmt.Errorf("failed to send image to %s: %w", to, err)
	}
	return nil
}

// SendDocument uploads and sends a document with an optional caption.
func (c *Client) SendDocument(ctx context.Context, to string, data []byte, mimeType, fileName, caption string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if len(data) == 0 {
		return fmt.Errorf("document data cannot be empty")
	}

	uploaded, err := c.waClient.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		slog.Error("Failed to upload WhatsApp document", "error", err, "to", to)
		return fmt.Errorf("failed to upload document for %s: %w", to, err)
	}

	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       proto.String(caption),
		FileName:      proto.String(fileName),
		Mimetype:      proto.String(mimeType),
		URL:           &uploaded.URL,
		DirectPath:    &uploaded.DirectPath,
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    &uploaded.FileLength,
	}}
	if _, err := c.waClient.SendMessage(ctx, recipientJID(to), msg); err != nil {
		slog.Error("Failed to send WhatsApp document", "error", err, "to", to)
		return fmt.Errorf("failed to send document to %s: %w", to, err)
	}
	return nil
}

// OwnIdentity returns the bot's own WhatsApp number, used to build
// private-chat deep links.
func (c *Client) OwnIdentity() (string, error) {
	if c.waClient == nil || c.waClient.Store == nil || c.waClient.Store.ID == nil {
		return "", fmt.Errorf("whatsapp client not logged in")
	}
	return c.waClient.Store.ID.User, nil
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockClient implements Sender but only records calls (for tests).
type MockClient struct {
	SentMessages  []MockSentMessage
	SentImages    []MockSentMedia
	SentDocuments []MockSentMedia
	// SendErr, when set, is returned by every send method.
	SendErr error
}

// MockSentMessage records a text send.
type MockSentMessage struct {
	To   string
	Body string
}

// MockSentMedia records a media send.
type MockSentMedia struct {
	To       string
	Caption  string
	FileName string
	Size     int
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, MockSentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendImage(ctx context.Context, to string, data []byte, mimeType, caption string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentImages = append(m.SentImages, MockSentMedia{To: to, Caption: caption, Size: len(data)})
	return nil
}

func (m *MockClient) SendDocument(ctx context.Context, to string, data []byte, mimeType, fileName, caption string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentDocuments = append(m.SentDocuments, MockSentMedia{To: to, Caption: caption, FileName: fileName, Size: len(data)})
	return nil
}
