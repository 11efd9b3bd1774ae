package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// ChatID returns the chat the update belongs to (0 if unknown).
func (u Update) ChatID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.ChatID
	case u.Callback != nil:
		return u.Callback.ChatID
	}
	return 0
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	ChatTitle    string
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	IsPrivate    bool
	Media        *Media
}

// MediaKind names the attachment type carried by an inbound message.
type MediaKind string

const MediaVideo MediaKind = "video"

// Media is an inbound attachment. Ref is the opaque token the transport
// accepts back in SendMedia.
type Media struct {
	Kind MediaKind
	Ref  string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	IsPrivate bool
	Data      string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// Control is one inline button. Data is routed back as Callback.Data.
type Control struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Controls       [][]Control
}

type MediaOptions struct {
	Caption   string
	ParseMode string
	Controls  [][]Control
}

type DocumentMeta struct {
	FileName string
	MIME     string
	Caption  string
}

// ChatAction is a transient "bot is doing something" hint.
type ChatAction string

const (
	ActionTyping         ChatAction = "typing"
	ActionUploadDocument ChatAction = "upload_document"
)

// Role is the membership status of a user within a chat.
type Role string

const (
	RoleCreator       Role = "creator"
	RoleAdministrator Role = "administrator"
	RoleMember        Role = "member"
	RoleRestricted    Role = "restricted"
	RoleLeft          Role = "left"
	RoleKicked        Role = "kicked"
)

// Privileged reports whether the role may manage the chat.
func (r Role) Privileged() bool {
	return r == RoleCreator || r == RoleAdministrator
}

// TextSender is the narrow surface used by log sinks and alerting.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	TextSender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendMedia(ctx context.Context, to ChatTarget, mediaRef string, opt *MediaOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, path string, meta DocumentMeta) (MessageRef, error)
	SendAction(ctx context.Context, to ChatTarget, action ChatAction) error
	MemberRole(ctx context.Context, chatID, userID int64) (Role, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
