package database

import (
	"fmt"
	"testing"
	"time"
)

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{reconnectMin, 30 * time.Second},
		{2 * time.Minute, 4 * time.Minute},
		{4 * time.Minute, reconnectMax},
		{reconnectMax, reconnectMax},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.in); got != tt.want {
			t.Errorf("nextBackoff(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWriteQueueDropsOldest(t *testing.T) {
	d := NewDatabase()
	for i := 0; i <= maxQueuedWrites; i++ {
		d.AddToWriteQueue(QueuedOperation{CollectionName: fmt.Sprintf("c%d", i), Operation: OpDelete})
	}

	if got := d.QueuedWrites(); got != maxQueuedWrites {
		t.Fatalf("QueuedWrites() = %d, want %d", got, maxQueuedWrites)
	}
	ops := d.takeQueue()
	if ops[0].CollectionName != "c1" {
		t.Errorf("oldest kept = %s, want c1", ops[0].CollectionName)
	}
	if last := ops[len(ops)-1].CollectionName; last != fmt.Sprintf("c%d", maxQueuedWrites) {
		t.Errorf("newest = %s", last)
	}
	if got := d.QueuedWrites(); got != 0 {
		t.Errorf("QueuedWrites() after take = %d, want 0", got)
	}
}

func TestOfflineDatabase(t *testing.T) {
	d := NewDatabase()

	if d.Connected() {
		t.Error("new database reports connected")
	}
	if status, ok := d.GetStatus(); ok || status != statusOffline {
		t.Errorf("GetStatus() = %q, %v, want offline", status, ok)
	}
	if col := d.GetCollection(ClansCollection); col != nil {
		t.Error("GetCollection() returned a handle while offline")
	}
	if err := d.Disconnect(); err != nil {
		t.Errorf("Disconnect() on offline database = %v", err)
	}
}

func TestDeleteManyQueuesWhileOffline(t *testing.T) {
	d := NewDatabase()
	dm := NewDataManager[struct{}](ClansCollection, d)

	n, err := dm.DeleteMany(t.Context(), map[string]interface{}{"tag": "#2PP"})
	if err != nil || n != 0 {
		t.Fatalf("DeleteMany() = %d, %v, want 0, nil", n, err)
	}
	ops := d.takeQueue()
	if len(ops) != 1 || ops[0].Operation != OpDeleteMany || ops[0].Query["tag"] != "#2PP" {
		t.Errorf("queued = %+v, want one deleteMany on #2PP", ops)
	}
}
