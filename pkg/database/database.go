// Package database holds the MongoDB connection, the cached DataManagers
// and the stores the polling core reads its tag sets from.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	connectTimeout  = 5 * time.Second
	healthInterval  = 30 * time.Second
	reconnectMin    = 15 * time.Second
	reconnectMax    = 5 * time.Minute
	maxQueuedWrites = 5000

	statusOnline  = "🟢 | En linea"
	statusOffline = "🔴 | Desconectado"
)

// WriteOp is the kind of a queued write
type WriteOp string

const (
	OpSet        WriteOp = "set"
	OpDelete     WriteOp = "delete"
	OpDeleteMany WriteOp = "deleteMany"
)

// QueuedOperation is a write kept while the database is offline
type QueuedOperation struct {
	CollectionName string
	Query          bson.M
	Operation      WriteOp
	Data           interface{}
}

// collectionIndexes are the single-field indexes behind the tag lookups
var collectionIndexes = map[string][]string{
	ClansCollection:       {"tag", "guildId"},
	RemindersCollection:   {"clanTag", "guildId"},
	LeagueClansCollection: {"clanTag", "guildId"},
	PlayerLinksCollection: {"tag"},
	GuildsCollection:      {"guildId"},
}

// Database manages the MongoDB connection. While offline, writes are queued
// and a background loop reconnects with backoff.
type Database struct {
	url  string
	name string

	mu           sync.RWMutex
	client       *mongo.Client
	db           *mongo.Database
	connected    bool
	reconnecting bool
	collections  map[string]*mongo.Collection

	queueMu    sync.Mutex
	writeQueue []QueuedOperation

	stop     chan struct{}
	stopOnce sync.Once
}

var (
	database *Database
	dbOnce   sync.Once
)

// Init initializes the global database instance
func Init(mongoURL, dbName string) (*Database, error) {
	var err error
	dbOnce.Do(func() {
		database = NewDatabase()
		err = database.Connect(mongoURL, dbName)
	})
	return database, err
}

// Get returns the global database instance
func Get() *Database {
	return database
}

// NewDatabase creates a disconnected Database
func NewDatabase() *Database {
	return &Database{
		collections: make(map[string]*mongo.Collection),
		stop:        make(chan struct{}),
	}
}

// Connect establishes the connection. On failure the reconnect loop keeps
// trying until it succeeds or Disconnect is called.
func (d *Database) Connect(mongoURL, dbName string) error {
	d.mu.Lock()
	d.url, d.name = mongoURL, dbName
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := d.connect(ctx); err != nil {
		d.scheduleReconnect()
		return err
	}
	return nil
}

func (d *Database) connect(ctx context.Context) error {
	d.mu.RLock()
	if d.connected {
		d.mu.RUnlock()
		return nil
	}
	url, name := d.url, d.name
	d.mu.RUnlock()

	logger.System("Intentando conectar a la base de datos...", "DB")

	clientOpts := options.Client().
		ApplyURI(url).
		SetAppName("clashbot").
		SetServerSelectionTimeout(connectTimeout)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		logger.Critical("Fallo al conectar con la base de datos.", "DB")
		return err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		logger.Critical("Fallo al verificar conexión con la base de datos.", "DB")
		_ = client.Disconnect(context.Background())
		return err
	}

	d.mu.Lock()
	d.client = client
	d.db = client.Database(name)
	d.collections = make(map[string]*mongo.Collection)
	d.connected = true
	d.mu.Unlock()
	metrics.DatabaseConnected.Set(1)

	logger.Success("Conectado exitosamente a la base de datos.", "DB")

	idxCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := d.ensureIndexes(idxCtx); err != nil {
		logger.Warn(fmt.Sprintf("No se pudieron crear los índices: %v", err), "DB")
	}
	cancel()

	go d.syncOfflineWrites()
	go d.monitor(client)
	return nil
}

// monitor pings the server until the connection is lost or replaced
func (d *Database) monitor(client *mongo.Client) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}

		d.mu.RLock()
		current := d.client == client
		d.mu.RUnlock()
		if !current {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := client.Ping(ctx, readpref.Primary())
		cancel()
		if err != nil {
			d.markLost(client, err)
			return
		}
	}
}

// markLost switches to offline mode and starts reconnecting
func (d *Database) markLost(client *mongo.Client, cause error) {
	d.mu.Lock()
	if !d.connected || d.client != client {
		d.mu.Unlock()
		return
	}
	d.connected = false
	d.client = nil
	d.db = nil
	d.collections = make(map[string]*mongo.Collection)
	d.mu.Unlock()
	metrics.DatabaseConnected.Set(0)

	logger.Warn(fmt.Sprintf("Se perdió la conexión con la base de datos (%v). Activando modo offline.", cause), "DB")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		_ = client.Disconnect(ctx)
	}()
	d.scheduleReconnect()
}

func (d *Database) scheduleReconnect() {
	d.mu.Lock()
	if d.reconnecting {
		d.mu.Unlock()
		return
	}
	d.reconnecting = true
	d.mu.Unlock()

	go d.reconnectLoop()
}

func (d *Database) reconnectLoop() {
	defer func() {
		d.mu.Lock()
		d.reconnecting = false
		d.mu.Unlock()
	}()

	delay := reconnectMin
	for {
		timer := time.NewTimer(delay)
		select {
		case <-d.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		logger.Info("Intentando reconectar a la base de datos...", "DB")
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err := d.connect(ctx)
		cancel()
		if err == nil {
			return
		}
		delay = nextBackoff(delay)
	}
}

// nextBackoff doubles d up to reconnectMax
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > reconnectMax {
		return reconnectMax
	}
	return d
}

// Disconnect stops the reconnect loop and closes the connection
func (d *Database) Disconnect() error {
	d.stopOnce.Do(func() { close(d.stop) })

	d.mu.Lock()
	client := d.client
	d.client = nil
	d.db = nil
	d.connected = false
	d.mu.Unlock()
	metrics.DatabaseConnected.Set(0)

	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return err
	}
	logger.Warn("La base de datos ha sido desconectada", "DB")
	return nil
}

// Connected reports whether the connection is currently up
func (d *Database) Connected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// GetStatus pings the server and returns a display string plus the result
func (d *Database) GetStatus() (string, bool) {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()

	if client == nil {
		return statusOffline, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return statusOffline, false
	}
	return statusOnline, true
}

// GetCollection returns a collection handle, or nil while offline
func (d *Database) GetCollection(name string) *mongo.Collection {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	if col, ok := d.collections[name]; ok {
		return col
	}
	col := d.db.Collection(name)
	d.collections[name] = col
	return col
}

func (d *Database) ensureIndexes(ctx context.Context) error {
	var errs []error
	for name, fields := range collectionIndexes {
		col := d.GetCollection(name)
		if col == nil {
			return ErrNotConnected
		}
		indexes := make([]mongo.IndexModel, 0, len(fields))
		for _, field := range fields {
			indexes = append(indexes, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
		}
		if _, err := col.Indexes().CreateMany(ctx, indexes); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// AddToWriteQueue keeps op until the connection is back. When the queue is
// full the oldest write is dropped.
func (d *Database) AddToWriteQueue(op QueuedOperation) {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	if len(d.writeQueue) >= maxQueuedWrites {
		dropped := d.writeQueue[0]
		d.writeQueue = d.writeQueue[1:]
		logger.Warn(fmt.Sprintf("Cola de escrituras llena, descartando %s en '%s'", dropped.Operation, dropped.CollectionName), "DB-Sync")
	}
	d.writeQueue = append(d.writeQueue, op)
	metrics.DatabaseQueuedWrites.Set(float64(len(d.writeQueue)))
}

// QueuedWrites returns the number of writes waiting for the connection
func (d *Database) QueuedWrites() int {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return len(d.writeQueue)
}

func (d *Database) takeQueue() []QueuedOperation {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	ops := d.writeQueue
	d.writeQueue = nil
	metrics.DatabaseQueuedWrites.Set(0)
	return ops
}

// syncOfflineWrites replays the queued writes. Failed writes are queued again.
func (d *Database) syncOfflineWrites() {
	operations := d.takeQueue()
	if len(operations) == 0 {
		return
	}

	logger.System(fmt.Sprintf("Sincronizando %d operaciones pendientes con la DB...", len(operations)), "DB-Sync")

	failed := 0
	for _, op := range operations {
		col := d.GetCollection(op.CollectionName)
		if col == nil {
			d.AddToWriteQueue(op)
			failed++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := applyWrite(ctx, col, op)
		cancel()

		if err != nil {
			logger.Error(fmt.Sprintf("Error al sincronizar %s en '%s': %v", op.Operation, op.CollectionName, err), "DB-Sync")
			d.AddToWriteQueue(op)
			failed++
		}
	}

	if failed > 0 {
		logger.Warn(fmt.Sprintf("%d operaciones no pudieron sincronizarse y se reintentarán.", failed), "DB-Sync")
		return
	}
	logger.Success("Sincronización completada exitosamente.", "DB-Sync")
}

func applyWrite(ctx context.Context, col *mongo.Collection, op QueuedOperation) error {
	var err error
	switch op.Operation {
	case OpSet:
		_, err = col.UpdateOne(ctx, op.Query, bson.M{"$set": op.Data}, options.Update().SetUpsert(true))
	case OpDelete:
		_, err = col.DeleteOne(ctx, op.Query)
	case OpDeleteMany:
		_, err = col.DeleteMany(ctx, op.Query)
	default:
		logger.Warn(fmt.Sprintf("Operación desconocida '%s' descartada", op.Operation), "DB-Sync")
	}
	return err
}
