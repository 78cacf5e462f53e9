// Package database provides the DataManager for cached database operations.
package database

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotConnected is returned by reads while the database is offline
var ErrNotConnected = errors.New("database not connected")

// DataManagerOptions contains configuration for a DataManager
type DataManagerOptions struct {
	MaxCacheSize int
}

// CacheManager provides shared caching across DataManagers
type CacheManager struct {
	cache     map[string]*list.Element
	cacheList *list.List
	mu        sync.RWMutex
}

// cacheEntry holds a cached value with its key
type cacheEntry struct {
	key   string
	value interface{}
}

// globalCacheManager is shared across all DataManager instances
var globalCacheManager = &CacheManager{
	cache:     make(map[string]*list.Element),
	cacheList: list.New(),
}

// Collection names
const (
	ClansCollection       = "clans"
	PlayerLinksCollection = "player_links"
	RemindersCollection   = "reminders"
	LeagueClansCollection = "league_clans"
	GuildsCollection      = "guilds"
)

// global DataManagers for shared collections
var (
	GlobalClanDM       *DataManager[models.ClanLink]
	GlobalPlayerLinkDM *DataManager[models.PlayerLink]
	GlobalReminderDM   *DataManager[models.Reminder]
	GlobalLeagueClanDM *DataManager[models.LeagueClan]
	GlobalGuildDM      *DataManager[models.GuildConfig]
)

// InitGlobalDataManagers initializes shared DataManager instances
func InitGlobalDataManagers(db *Database) {
	GlobalClanDM = NewDataManager[models.ClanLink](ClansCollection, db)
	GlobalPlayerLinkDM = NewDataManager[models.PlayerLink](PlayerLinksCollection, db)
	GlobalReminderDM = NewDataManager[models.Reminder](RemindersCollection, db)
	GlobalLeagueClanDM = NewDataManager[models.LeagueClan](LeagueClansCollection, db)
	GlobalGuildDM = NewDataManager[models.GuildConfig](GuildsCollection, db)
}

// DataManager provides cached access to a MongoDB collection
type DataManager[T any] struct {
	name       string
	dbInstance *Database
	options    DataManagerOptions
}

// DefaultDataManagerOptions returns default options for DataManager
func DefaultDataManagerOptions() DataManagerOptions {
	return DataManagerOptions{
		MaxCacheSize: 1000,
	}
}

// NewDataManager creates a new DataManager for a collection
func NewDataManager[T any](collectionName string, db *Database, opts ...DataManagerOptions) *DataManager[T] {
	dmOptions := DefaultDataManagerOptions()
	if len(opts) > 0 {
		dmOptions = opts[0]
	}

	return &DataManager[T]{
		name:       collectionName,
		dbInstance: db,
		options:    dmOptions,
	}
}

// col resolves the collection, which is nil until the first connection succeeds
func (dm *DataManager[T]) col() *mongo.Collection {
	return dm.dbInstance.GetCollection(dm.name)
}

// Name returns the collection name
func (dm *DataManager[T]) Name() string {
	return dm.name
}

// generateCacheKey creates a unique, deterministic key from a query
// It sorts the keys to ensure consistent ordering regardless of map iteration order
func (dm *DataManager[T]) generateCacheKey(query bson.M) string {
	collName := dm.name

	// Sort keys for deterministic serialization
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Build a deterministic key string
	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, query[k]))
	}

	return fmt.Sprintf("%s:{%s}", collName, strings.Join(parts, ","))
}

// Get retrieves a document from cache or database
func (dm *DataManager[T]) Get(query bson.M) (*T, error) {
	cacheKey := dm.generateCacheKey(query)

	// Check cache first
	globalCacheManager.mu.RLock()
	if elem, exists := globalCacheManager.cache[cacheKey]; exists {
		// Move to front (LRU)
		globalCacheManager.mu.RUnlock()
		globalCacheManager.mu.Lock()
		globalCacheManager.cacheList.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		globalCacheManager.mu.Unlock()
		return entry.value.(*T), nil
	}
	globalCacheManager.mu.RUnlock()

	// Not in cache, fetch from database
	if !dm.dbInstance.Connected() || dm.col() == nil {
		return nil, ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result T
	err := dm.col().FindOne(ctx, query).Decode(&result)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		logger.Warn(fmt.Sprintf("Fallo al leer de la DB (%s), intentando desde caché...", dm.name), "DataManager")
		return nil, err
	}

	// Add to cache
	globalCacheManager.mu.Lock()
	defer globalCacheManager.mu.Unlock()

	entry := &cacheEntry{key: cacheKey, value: &result}
	elem := globalCacheManager.cacheList.PushFront(entry)
	globalCacheManager.cache[cacheKey] = elem

	// Evict if over capacity
	if dm.options.MaxCacheSize > 0 && globalCacheManager.cacheList.Len() > dm.options.MaxCacheSize {
		oldest := globalCacheManager.cacheList.Back()
		if oldest != nil {
			oldEntry := oldest.Value.(*cacheEntry)
			delete(globalCacheManager.cache, oldEntry.key)
			globalCacheManager.cacheList.Remove(oldest)
		}
	}

	return &result, nil
}

// GetAll retrieves all documents matching a query from the database
func (dm *DataManager[T]) GetAll(query bson.M) ([]*T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return dm.Find(ctx, query)
}

// Find is GetAll bound to ctx
func (dm *DataManager[T]) Find(ctx context.Context, query bson.M) ([]*T, error) {
	if !dm.dbInstance.Connected() || dm.col() == nil {
		return nil, ErrNotConnected
	}

	cursor, err := dm.col().Find(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var results []*T
	for cursor.Next(ctx) {
		var doc T
		if err := cursor.Decode(&doc); err != nil {
			logger.Warn(fmt.Sprintf("Documento ilegible en '%s': %v", dm.name, err), "DataManager")
			continue
		}
		results = append(results, &doc)
	}
	return results, cursor.Err()
}

// Distinct returns the distinct non-empty string values of field
func (dm *DataManager[T]) Distinct(ctx context.Context, field string, query bson.M) ([]string, error) {
	if !dm.dbInstance.Connected() || dm.col() == nil {
		return nil, ErrNotConnected
	}
	if query == nil {
		query = bson.M{}
	}

	values, err := dm.col().Distinct(ctx, field, query)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}

// DeleteMany removes every document matching query and drops this
// collection's cached entries. Offline, the delete is queued and 0 is returned.
func (dm *DataManager[T]) DeleteMany(ctx context.Context, query bson.M) (int64, error) {
	if !dm.dbInstance.Connected() || dm.col() == nil {
		logger.Warn(fmt.Sprintf("DB offline. Encolando eliminación múltiple para '%s'", dm.name), "DataManager")
		dm.dbInstance.AddToWriteQueue(QueuedOperation{
			CollectionName: dm.name,
			Query:          query,
			Operation:      OpDeleteMany,
		})
		dm.evictCollection()
		return 0, nil
	}

	res, err := dm.col().DeleteMany(ctx, query)
	if err != nil {
		return 0, err
	}
	dm.evictCollection()
	return res.DeletedCount, nil
}

// evictCollection drops every cache entry belonging to this collection
func (dm *DataManager[T]) evictCollection() {
	prefix := dm.name + ":"
	globalCacheManager.mu.Lock()
	defer globalCacheManager.mu.Unlock()
	for key, elem := range globalCacheManager.cache {
		if strings.HasPrefix(key, prefix) {
			globalCacheManager.cacheList.Remove(elem)
			delete(globalCacheManager.cache, key)
		}
	}
}

// Set updates or inserts a document in the database and cache
func (dm *DataManager[T]) Set(query bson.M, data interface{}) (*T, error) {
	cacheKey := dm.generateCacheKey(query)

	if !dm.dbInstance.Connected() || dm.col() == nil {
		// Queue for later
		logger.Warn(fmt.Sprintf("DB offline. Encolando escritura para '%s'", dm.name), "DataManager")
		dm.dbInstance.AddToWriteQueue(QueuedOperation{
			CollectionName: dm.name,
			Query:          query,
			Operation:      OpSet,
			Data:           data,
		})
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var result T
	err := dm.col().FindOneAndUpdate(ctx, query, bson.M{"$set": data}, opts).Decode(&result)
	if err != nil {
		logger.Error("Error en 'set' con DB conectada. Encolando por seguridad.", "DataManager")
		dm.dbInstance.AddToWriteQueue(QueuedOperation{
			CollectionName: dm.name,
			Query:          query,
			Operation:      OpSet,
			Data:           data,
		})
		return nil, err
	}

	// Update cache
	globalCacheManager.mu.Lock()
	defer globalCacheManager.mu.Unlock()

	entry := &cacheEntry{key: cacheKey, value: &result}

	if elem, exists := globalCacheManager.cache[cacheKey]; exists {
		elem.Value = entry
		globalCacheManager.cacheList.MoveToFront(elem)
	} else {
		elem := globalCacheManager.cacheList.PushFront(entry)
		globalCacheManager.cache[cacheKey] = elem

		// Evict if over capacity
		if dm.options.MaxCacheSize > 0 && globalCacheManager.cacheList.Len() > dm.options.MaxCacheSize {
			oldest := globalCacheManager.cacheList.Back()
			if oldest != nil {
				oldEntry := oldest.Value.(*cacheEntry)
				delete(globalCacheManager.cache, oldEntry.key)
				globalCacheManager.cacheList.Remove(oldest)
			}
		}
	}

	return &result, nil
}

// Delete removes a document from the database and cache
func (dm *DataManager[T]) Delete(query bson.M) error {
	cacheKey := dm.generateCacheKey(query)

	// Remove from cache first
	globalCacheManager.mu.Lock()
	if elem, exists := globalCacheManager.cache[cacheKey]; exists {
		globalCacheManager.cacheList.Remove(elem)
		delete(globalCacheManager.cache, cacheKey)
	}
	globalCacheManager.mu.Unlock()

	if !dm.dbInstance.Connected() || dm.col() == nil {
		logger.Warn(fmt.Sprintf("DB offline. Encolando eliminación para '%s'", dm.name), "DataManager")
		dm.dbInstance.AddToWriteQueue(QueuedOperation{
			CollectionName: dm.name,
			Query:          query,
			Operation:      OpDelete,
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := dm.col().DeleteOne(ctx, query)
	if err != nil {
		logger.Error("Error en 'delete' con DB conectada. Encolando por seguridad.", "DataManager")
		dm.dbInstance.AddToWriteQueue(QueuedOperation{
			CollectionName: dm.name,
			Query:          query,
			Operation:      OpDelete,
		})
		return err
	}

	return nil
}

// ClearCache clears the entire cache
func (dm *DataManager[T]) ClearCache() {
	globalCacheManager.mu.Lock()
	defer globalCacheManager.mu.Unlock()

	globalCacheManager.cache = make(map[string]*list.Element)
	globalCacheManager.cacheList = list.New()
}

// CacheSize returns the current cache size
func (dm *DataManager[T]) CacheSize() int {
	globalCacheManager.mu.RLock()
	defer globalCacheManager.mu.RUnlock()
	return globalCacheManager.cacheList.Len()
}

// PrimeCache logs that the cache is ready (caches are filled on demand)
func (dm *DataManager[T]) PrimeCache() {
	collName := dm.name
	logger.System(fmt.Sprintf("Caché para '%s' preparada (tamaño máx: %d). Se llenará bajo demanda.", collName, dm.options.MaxCacheSize), "DataManager")
}
