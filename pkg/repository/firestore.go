package repository

import (
	"context"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultSessionCollection = "sessions"

// Firestore stores one document per session. Message appends use
// ArrayUnion so concurrent writers never overwrite each other's history.
type Firestore struct {
	client     *firestore.Client
	collection string
	closeOnce  sync.Once
}

type FirestoreOption func(*Firestore)

func WithCollection(name string) FirestoreOption {
	return func(f *Firestore) {
		f.collection = name
	}
}

// NewFirestore creates a session store on the given Firestore database
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project is required")
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	f := &Firestore{
		client:     client,
		collection: defaultSessionCollection,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) doc(id model.SessionID) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(id.String())
}

func (f *Firestore) Create(ctx context.Context, userID string) (*model.Session, error) {
	session := model.NewSession(userID)
	if _, err := f.doc(session.ID).Create(ctx, session); err != nil {
		return nil, goerr.Wrap(err, "failed to create session", goerr.V("session_id", session.ID))
	}
	return session, nil
}

func (f *Firestore) Get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return f.get(ctx, id)
}

func (f *Firestore) get(ctx context.Context, id model.SessionID) (*model.Session, error) {
	snap, err := f.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}

	var session model.Session
	if err := snap.DataTo(&session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("session_id", id))
	}
	if session.ChatHistory == nil {
		session.ChatHistory = []model.ChatMessage{}
	}
	return &session, nil
}

// update applies updates together with an updated_at bump and returns the
// stored session
func (f *Firestore) update(ctx context.Context, id model.SessionID, updates ...firestore.Update) (*model.Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	updates = append(updates, firestore.Update{Path: "updated_at", Value: time.Now().UTC()})
	if _, err := f.doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, notFound(id)
		}
		return nil, goerr.Wrap(err, "failed to update session", goerr.V("session_id", id))
	}

	session, err := f.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, notFound(id)
	}
	return session, nil
}

func (f *Firestore) AddMessage(ctx context.Context, id model.SessionID, msg *model.ChatMessage) (*model.Session, error) {
	return f.update(ctx, id, firestore.Update{Path: "chat_history", Value: firestore.ArrayUnion(*msg)})
}

func (f *Firestore) UpdateStatus(ctx context.Context, id model.SessionID, st model.SessionStatus) (*model.Session, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return f.update(ctx, id, firestore.Update{Path: "status", Value: st})
}

func (f *Firestore) ClearHistory(ctx context.Context, id model.SessionID) (*model.Session, error) {
	return f.update(ctx, id, firestore.Update{Path: "chat_history", Value: []model.ChatMessage{}})
}

func (f *Firestore) Close() error {
	var err error
	f.closeOnce.Do(func() {
		if cerr := f.client.Close(); cerr != nil {
			err = goerr.Wrap(cerr, "failed to close firestore client")
		}
	})
	return err
}
