package manifest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestFilesystemManifest_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	fm := NewFilesystemManifest(dir)

	before := time.Now().UTC().Unix()
	if err := fm.PublishLatest("snap-7", 42); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m, err := fm.ReadLatest()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.SnapshotID != "snap-7" || m.LastAuditOffset != 42 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	if m.CreatedAtEpochSecond < before {
		t.Fatalf("created-at not stamped: %+v", m)
	}
}

func TestFilesystemManifest_OverwritesLatest(t *testing.T) {
	dir := t.TempDir()
	fm := NewFilesystemManifest(dir)
	if err := fm.PublishLatest("snap-1", 10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := fm.PublishLatest("snap-2", 20); err != nil {
		t.Fatalf("publish: %v", err)
	}
	m, err := fm.ReadLatest()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if m.SnapshotID != "snap-2" || m.LastAuditOffset != 20 {
		t.Fatalf("latest not overwritten: %+v", m)
	}
}

func TestFilesystemManifest_ReadMissing(t *testing.T) {
	fm := NewFilesystemManifest(t.TempDir())
	if _, err := fm.ReadLatest(); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

type fakeKafkaWriter struct {
	msgs []kafka.Message
}

func (f *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaManifest_PublishesCompactedRecord(t *testing.T) {
	fw := &fakeKafkaWriter{}
	km := NewKafkaManifestWith(fw, "stockd-manifest-latest")
	if err := km.PublishLatest("snap-3", 99); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("want 1 message, got %d", len(fw.msgs))
	}
	if string(fw.msgs[0].Key) != "stockd-manifest-latest" {
		t.Fatalf("key: %s", fw.msgs[0].Key)
	}
	var m Manifest
	if err := json.Unmarshal(fw.msgs[0].Value, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.SnapshotID != "snap-3" || m.LastAuditOffset != 99 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
}

func TestMultiPublisher(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	mp := MultiPublisher(NewFilesystemManifest(dir1), NewFilesystemManifest(dir2))
	if err := mp.PublishLatest("snap-4", 5); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, dir := range []string{dir1, dir2} {
		m, err := NewFilesystemManifest(dir).ReadLatest()
		if err != nil {
			t.Fatalf("read %s: %v", dir, err)
		}
		if m.SnapshotID != "snap-4" {
			t.Fatalf("unexpected manifest in %s: %+v", dir, m)
		}
	}
}
