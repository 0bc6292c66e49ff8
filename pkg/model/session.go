package model

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidSessionID = goerr.New("invalid session id")

	sessionIDPattern = regexp.MustCompile(`^sess_[0-9a-f]{32}$`)
)

const (
	sessionIDPrefix = "sess_"

	// AnonymousUser is assigned to sessions created without an explicit owner
	AnonymousUser = "anonymous_user"
)

type SessionID string

// NewSessionID generates a session id carrying 128 bits of randomness
func NewSessionID() SessionID {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return SessionID(sessionIDPrefix + hex.EncodeToString(b[:]))
}

func (x SessionID) String() string { return string(x) }

// Validate checks the fixed session id format. It must be called before any
// storage lookup.
func (x SessionID) Validate() error {
	if !sessionIDPattern.MatchString(string(x)) {
		return goerr.Wrap(ErrInvalidSessionID, "malformed session id", goerr.V("session_id", string(x)))
	}
	return nil
}

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionInactive SessionStatus = "inactive"
	SessionEnded    SessionStatus = "ended"
)

func (x SessionStatus) Validate() error {
	switch x {
	case SessionActive, SessionInactive, SessionEnded:
		return nil
	}
	return goerr.New("invalid session status", goerr.V("status", string(x)))
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is immutable once created. ID keeps otherwise identical
// messages distinct in set-like array pushes.
type ChatMessage struct {
	ID        string    `json:"id" firestore:"id"`
	Role      Role      `json:"role" firestore:"role"`
	Content   string    `json:"content" firestore:"content"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

func NewChatMessage(role Role, content string) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

type Session struct {
	ID          SessionID     `json:"session_id" firestore:"session_id"`
	UserID      string        `json:"user_id" firestore:"user_id"`
	Status      SessionStatus `json:"status" firestore:"status"`
	ChatHistory []ChatMessage `json:"chat_history" firestore:"chat_history"`
	CreatedAt   time.Time     `json:"created_at" firestore:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" firestore:"updated_at"`
}

// NewSession creates an active session with an empty history
func NewSession(userID string) *Session {
	if userID == "" {
		userID = AnonymousUser
	}
	now := time.Now().UTC()
	return &Session{
		ID:          NewSessionID(),
		UserID:      userID,
		Status:      SessionActive,
		ChatHistory: []ChatMessage{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy so callers can not alias stored history
func (x *Session) Clone() *Session {
	if x == nil {
		return nil
	}
	c := *x
	c.ChatHistory = make([]ChatMessage, len(x.ChatHistory))
	copy(c.ChatHistory, x.ChatHistory)
	return &c
}
