package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/chargebridge/chargebridge/pkg/log"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store using Google Cloud Firestore, giving the
// mirrored state tree durability across restarts. Each state id is a single
// document in the configured collection; change notifications stay
// process-local.
type FirestoreStore struct {
	client     *firestore.Client
	projectID  string
	database   string
	collection string

	mu   sync.Mutex
	subs []func(Change)
}

// configuredFirestore sets up the Firestore provider. It registers flags for
// configuration.
func configuredFirestore() *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	collection := lflag.String("firestore-collection", "states", "Collection holding the state tree")

	f := &FirestoreStore{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.collection = *collection

		// set this because that's how the firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreStore) Validate() error {
	if f.collection == "" {
		return fmt.Errorf("firestore collection cannot be empty")
	}
	return nil
}

// Init initializes the Firestore client. This must be called before using the
// store.
func (f *FirestoreStore) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreStore) doc(id string) *firestore.DocumentRef {
	return f.client.Collection(f.collection).Doc(id)
}

// EnsureObject creates the object metadata document for id if it does not
// exist.
func (f *FirestoreStore) EnsureObject(ctx context.Context, id string, meta ObjectMeta) error {
	_, err := f.doc(id).Create(ctx, map[string]any{
		"name":     meta.Name,
		"kind":     string(meta.Kind),
		"writable": meta.Writable,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to create object %s: %w", id, err)
	}
	return nil
}

// SetState overwrites the value of an existing object and notifies
// subscribers. The value is stored as a JSON string for portability.
func (f *FirestoreStore) SetState(ctx context.Context, id string, value any, ack bool) error {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", id, err)
	}

	doc, err := f.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to fetch object %s: %w", id, err)
	}
	_, err = doc.Ref.Set(ctx, map[string]any{
		"json": string(jsonBytes),
		"ack":  ack,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", id, err)
	}

	f.notify(Change{ID: id, Value: value, Ack: ack})
	return nil
}

// GetState returns the stored state for id.
func (f *FirestoreStore) GetState(ctx context.Context, id string) (State, bool, error) {
	doc, err := f.doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return State{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return State{}, false, fmt.Errorf("failed to fetch state %s: %w", id, err)
	}
	return f.decodeState(doc.Ref.ID, doc.Data())
}

func (f *FirestoreStore) decodeState(id string, data map[string]any) (State, bool, error) {
	raw, ok := data["json"].(string)
	if !ok {
		// metadata exists but no value has been written yet
		return State{}, false, nil
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return State{}, false, fmt.Errorf("failed to unmarshal state %s: %w", id, err)
	}
	ack, _ := data["ack"].(bool)
	return State{Value: value, Ack: ack}, true, nil
}

// DeleteState removes the document for id, notifying subscribers with a
// deletion change.
func (f *FirestoreStore) DeleteState(ctx context.Context, id string) error {
	if _, err := f.doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete state %s: %w", id, err)
	}
	f.notify(Change{ID: id, Deleted: true})
	return nil
}

// States returns a snapshot of all stored states keyed by id.
func (f *FirestoreStore) States(ctx context.Context) (map[string]State, error) {
	iter := f.client.Collection(f.collection).Documents(ctx)
	defer iter.Stop()

	out := make(map[string]State)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating states: %w", err)
		}

		s, ok, err := f.decodeState(doc.Ref.ID, doc.Data())
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping malformed state doc", slog.String("id", doc.Ref.ID), slog.Any("error", err))
			continue
		}
		if ok {
			out[doc.Ref.ID] = s
		}
	}
	return out, nil
}

// Subscribe registers a callback invoked synchronously for every change made
// through this process.
func (f *FirestoreStore) Subscribe(fn func(Change)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, fn)
}

func (f *FirestoreStore) notify(ch Change) {
	f.mu.Lock()
	subs := append([]func(Change){}, f.subs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ch)
	}
}
