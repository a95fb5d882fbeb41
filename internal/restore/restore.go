// Package restore rebuilds stock ledger state from the latest snapshot plus
// a replay of the audit stream after the snapshot's offset.
package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/kafka-go"

	"stocksync/internal/audit"
	"stocksync/internal/manifest"
	"stocksync/internal/model"
	"stocksync/internal/store"
)

// ManifestKey is the compacted-topic key under which the daemon publishes
// the latest manifest.
const ManifestKey = "stockd-manifest-latest"

type Restorer struct {
	stateStore      store.Store
	manifestReader  manifest.Reader
	snapshotBaseDir string
}

type Reader interface {
	ReadLatest() (manifest.Manifest, error)
}

type FilesystemReader struct {
	baseDir string
}

func NewFilesystemReader(baseDir string) *FilesystemReader {
	return &FilesystemReader{baseDir: baseDir}
}

func (r *FilesystemReader) ReadLatest() (manifest.Manifest, error) {
	file := filepath.Join(r.baseDir, "manifest.latest.json")
	data, err := os.ReadFile(file)
	if err != nil {
		return manifest.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest.Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// KafkaReader reads the latest manifest record from a compacted Kafka topic.
type KafkaReader struct {
	brokers []string
	topic   string
	key     []byte
}

func NewKafkaReader(brokers []string, topic string, key string) *KafkaReader {
	return &KafkaReader{brokers: brokers, topic: topic, key: []byte(key)}
}

func (k *KafkaReader) ReadLatest() (manifest.Manifest, error) {
	// Read from the beginning and keep the last record seen for the key
	// (fine for small compacted topics).
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   k.brokers,
		Topic:     k.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var last manifest.Manifest
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return manifest.Manifest{}, fmt.Errorf("read kafka: %w", err)
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man manifest.Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return manifest.Manifest{}, fmt.Errorf("unmarshal kafka manifest: %w", err)
		}
		last = man
	}
	if last.SnapshotID == "" {
		return manifest.Manifest{}, fmt.Errorf("no manifest found for key")
	}
	return last, nil
}

func NewRestorer(st store.Store, mr manifest.Reader, snapshotBaseDir string) *Restorer {
	return &Restorer{
		stateStore:      st,
		manifestReader:  mr,
		snapshotBaseDir: snapshotBaseDir,
	}
}

type RestoreResult struct {
	Applied           int
	Skipped           int
	LastAppliedOffset int64
	Error             error
}

// RestoreFromSnapshot loads the stock dump of a snapshot into the store,
// replacing the whole stock/ subtree.
func (r *Restorer) RestoreFromSnapshot(snapshotID string) error {
	if snapshotID == "" {
		return nil
	}
	path := filepath.Join(r.snapshotBaseDir, snapshotID, "stock.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("restore: snapshot not found at %s, skipping", path)
			return nil
		}
		return fmt.Errorf("read snapshot: %w", err)
	}
	var dump map[string]map[string]model.StockEntry
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := r.stateStore.LoadStock(dump); err != nil {
		return fmt.Errorf("load stock: %w", err)
	}
	log.Printf("restore: loaded %d products from snapshot %s", len(dump), snapshotID)
	return nil
}

// apply re-runs one audit adjustment through the clamped atomic adjust.
// Replaying the same deltas from the same snapshot walks the same state
// sequence the reconciler produced, clamping included. Adjustments against
// documents that no longer exist are skipped, matching the reconciler's
// never-creates rule.
func (r *Restorer) apply(a audit.Adjustment) (bool, error) {
	var res store.AdjustResult
	var err error
	if a.VariantID != "" {
		res, err = r.stateStore.AdjustStockQuantity(a.ProductID, a.VariantID, a.Delta)
	} else {
		res, err = r.stateStore.AdjustMasterStock(a.ProductID, a.Delta)
	}
	if err != nil {
		return false, err
	}
	return res.Exists, nil
}

// ReplayAudit applies audit records from a JSONL file, skipping the first
// fromOffset lines.
func (r *Restorer) ReplayAudit(auditPath string, fromOffset int64) RestoreResult {
	file, err := os.Open(auditPath)
	if err != nil {
		return RestoreResult{Error: fmt.Errorf("open audit log: %w", err)}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	applied, skipped := 0, 0
	lineNum := int64(0)
	lastApplied := fromOffset

	for scanner.Scan() {
		lineNum++
		if lineNum <= fromOffset {
			continue
		}

		var a audit.Adjustment
		if err := json.Unmarshal(scanner.Bytes(), &a); err != nil {
			return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied,
				Error: fmt.Errorf("unmarshal line %d: %w", lineNum, err)}
		}

		ok, err := r.apply(a)
		if err != nil {
			return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied,
				Error: fmt.Errorf("apply line %d: %w", lineNum, err)}
		}
		if ok {
			applied++
		} else {
			skipped++
		}
		lastApplied = lineNum
	}

	if err := scanner.Err(); err != nil {
		return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied,
			Error: fmt.Errorf("scan audit log: %w", err)}
	}

	return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied}
}

// ReplayAuditKafka consumes adjustments from a Kafka topic (partition 0) and
// applies them. fromOffset is interpreted as message index.
func (r *Restorer) ReplayAuditKafka(brokers []string, topic string, fromOffset int64) RestoreResult {
	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer rd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	applied, skipped := 0, 0
	idx := int64(0)
	lastApplied := fromOffset
	for {
		m, err := rd.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied,
				Error: fmt.Errorf("read kafka: %w", err)}
		}
		idx++
		if idx <= fromOffset {
			continue
		}
		var a audit.Adjustment
		if err := json.Unmarshal(m.Value, &a); err != nil {
			return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied,
				Error: fmt.Errorf("unmarshal adjustment: %w", err)}
		}
		ok, err := r.apply(a)
		if err != nil {
			return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied,
				Error: fmt.Errorf("apply: %w", err)}
		}
		if ok {
			applied++
		} else {
			skipped++
		}
		lastApplied = idx
	}
	return RestoreResult{Applied: applied, Skipped: skipped, LastAppliedOffset: lastApplied}
}

// RestoreAndReplay reads the latest manifest, loads its snapshot and replays
// the default file audit log from the manifest's offset.
func (r *Restorer) RestoreAndReplay() (RestoreResult, error) {
	m, err := r.manifestReader.ReadLatest()
	if err != nil {
		return RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	}

	if err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
		return RestoreResult{}, fmt.Errorf("restore snapshot: %w", err)
	}

	// File-based replay by default; callers invoke the Kafka variant directly.
	result := r.ReplayAudit("./audit/stockd.jsonl", m.LastAuditOffset)
	return result, result.Error
}
