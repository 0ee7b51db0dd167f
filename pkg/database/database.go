package database

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mnohosten/streamhub/pkg/index"
)

// Database represents a database instance: a set of named in-memory
// collections
type Database struct {
	name        string
	config      *Config
	collections map[string]*Collection
	mu          sync.RWMutex
	isOpen      bool

	listenerMu   sync.RWMutex
	listeners    map[int]ChangeListener
	nextListener int
}

// Config holds database configuration
type Config struct {
	Name string
	// RecordStripes is the number of lock stripes for each collection's records
	RecordStripes int
	// IndexBuckets is the number of lock-striped buckets per index level
	IndexBuckets int
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:          "streamhub",
		RecordStripes: 256,
		IndexBuckets:  index.DefaultBuckets,
	}
}

// Open creates a database
func Open(config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Name == "" {
		return nil, fmt.Errorf("database name is required")
	}

	return &Database{
		name:        config.Name,
		config:      config,
		collections: make(map[string]*Collection),
		listeners:   make(map[int]ChangeListener),
		isOpen:      true,
	}, nil
}

// Name returns the database name
func (db *Database) Name() string {
	return db.name
}

// Collection returns a collection, creating it if it doesn't exist. On a
// closed database the returned collection is detached and every operation
// on it fails with ErrDatabaseClosed.
func (db *Database) Collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isOpen {
		coll := newCollection(name, db)
		coll.closedErr = ErrDatabaseClosed
		return coll
	}
	if coll, exists := db.collections[name]; exists {
		return coll
	}

	coll := newCollection(name, db)
	db.collections[name] = coll
	return coll
}

// GetCollection returns an existing collection or ErrCollectionNotFound
func (db *Database) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if !db.isOpen {
		return nil, ErrDatabaseClosed
	}
	coll, exists := db.collections[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return coll, nil
}

// CreateCollection explicitly creates a collection
func (db *Database) CreateCollection(name string) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: collection name is required", ErrInvalidExpression)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isOpen {
		return nil, ErrDatabaseClosed
	}
	if _, exists := db.collections[name]; exists {
		return nil, fmt.Errorf("collection %s already exists", name)
	}

	coll := newCollection(name, db)
	db.collections[name] = coll
	return coll, nil
}

// DropCollection drops a collection and publishes a drop event once the
// writes already in progress on it have finished. Handles to the dropped
// collection stop working.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	if !db.isOpen {
		db.mu.Unlock()
		return ErrDatabaseClosed
	}
	coll, exists := db.collections[name]
	if !exists {
		db.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	delete(db.collections, name)
	db.mu.Unlock()

	coll.close(fmt.Errorf("%w: %s was dropped", ErrCollectionNotFound, name))
	db.notify(ChangeEvent{
		Operation:  OperationDrop,
		Collection: name,
	})
	return nil
}

// ListCollections returns all collection names, sorted
func (db *Database) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watch registers a listener for committed writes on every collection.
// The returned function unregisters it.
func (db *Database) Watch(listener ChangeListener) func() {
	db.listenerMu.Lock()
	id := db.nextListener
	db.nextListener++
	db.listeners[id] = listener
	db.listenerMu.Unlock()

	return func() {
		db.listenerMu.Lock()
		delete(db.listeners, id)
		db.listenerMu.Unlock()
	}
}

func (db *Database) notify(event ChangeEvent) {
	db.listenerMu.RLock()
	defer db.listenerMu.RUnlock()

	if len(db.listeners) == 0 {
		return
	}
	event.Time = time.Now().UTC()
	for _, listener := range db.listeners {
		listener(event)
	}
}

// Close closes the database. Collections are released.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.isOpen {
		return nil
	}

	for _, coll := range db.collections {
		coll.close(ErrDatabaseClosed)
	}
	db.collections = make(map[string]*Collection)
	db.isOpen = false
	return nil
}

// Stats returns database statistics
func (db *Database) Stats() map[string]interface{} {
	db.mu.RLock()
	defer db.mu.RUnlock()

	collectionStats := make(map[string]interface{})
	for name, coll := range db.collections {
		collectionStats[name] = coll.Stats()
	}

	return map[string]interface{}{
		"name":             db.name,
		"collections":      len(db.collections),
		"collection_stats": collectionStats,
	}
}
