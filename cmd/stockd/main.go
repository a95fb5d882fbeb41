package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"stocksync/internal/audit"
	"stocksync/internal/manifest"
	"stocksync/internal/metrics"
	"stocksync/internal/model"
	"stocksync/internal/reconcile"
	"stocksync/internal/restore"
	"stocksync/internal/snapshot"
	"stocksync/internal/store"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Config holds CLI flags for stockd.
type Config struct {
	GroupID          string
	Mode             string // besteffort|atomic
	SnapshotInterval int
	AuditOn          bool
	SnapshotDir      string
	PebbleDir        string
	BadgerDir        string
	StateBackend     string // memory|pebble|badger
	// Kafka sinks
	KafkaBootstrap string
	AuditSink      string // file|kafka|both
	ManifestSink   string // file|kafka|both
	ManifestSource string // file|kafka
	TopicAudit     string
	TopicSnapshots string
	// Kafka input for order events
	InputSource string // sample|kafka
	TopicEvents string
	HTTPAddr    string
}

func main() {
	cfg := readFlags()
	if err := run(cfg); err != nil {
		log.Fatalf("stockd failed: %v", err)
	}
}

func readFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.GroupID, "group-id", "stockd", "consumer group id")
	flag.StringVar(&cfg.Mode, "mode", "besteffort", "write discipline: besteffort|atomic")
	flag.IntVar(&cfg.SnapshotInterval, "snapshot-interval", 60, "snapshot interval seconds")
	flag.BoolVar(&cfg.AuditOn, "audit", true, "enable audit emission")
	flag.StringVar(&cfg.SnapshotDir, "snapshot-dir", "./snapshots", "snapshot directory")
	flag.StringVar(&cfg.PebbleDir, "pebble-dir", "./data/stockd-pebble", "pebble data directory")
	flag.StringVar(&cfg.BadgerDir, "badger-dir", "./data/stockd", "badger data directory")
	flag.StringVar(&cfg.StateBackend, "state-backend", "badger", "state backend: memory|pebble|badger")
	flag.StringVar(&cfg.KafkaBootstrap, "kafka-bootstrap", "", "kafka bootstrap servers, e.g. localhost:9092")
	flag.StringVar(&cfg.AuditSink, "audit-sink", "file", "audit sink: file|kafka|both")
	flag.StringVar(&cfg.ManifestSink, "manifest-sink", "file", "manifest sink: file|kafka|both")
	flag.StringVar(&cfg.ManifestSource, "manifest-source", "file", "manifest source for restore: file|kafka")
	flag.StringVar(&cfg.TopicAudit, "topic-audit", "inv.stock-audit", "kafka topic for audit (compacted)")
	flag.StringVar(&cfg.TopicSnapshots, "topic-snapshots", "inv.stock-snapshots", "kafka topic for manifest (compacted)")
	flag.StringVar(&cfg.InputSource, "input-source", "sample", "order events source: sample|kafka")
	flag.StringVar(&cfg.TopicEvents, "topic-events", "inv.order-events", "kafka topic for order events")
	flag.StringVar(&cfg.HTTPAddr, "http", ":8080", "http listen for /metrics and /healthz")
	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	log.Printf("starting stockd backend=%s mode=%s snapshot-interval=%ds audit=%v",
		cfg.StateBackend, cfg.Mode, cfg.SnapshotInterval, cfg.AuditOn)

	mode, ok := reconcile.ParseMode(cfg.Mode)
	if !ok {
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}

	// Init document store
	var st store.Store
	switch cfg.StateBackend {
	case "badger":
		bs, err := store.NewBadgerStore(cfg.BadgerDir)
		if err != nil {
			return fmt.Errorf("init badger: %w", err)
		}
		defer bs.Close()
		st = bs
	case "pebble":
		ps, err := store.NewPebbleStore(cfg.PebbleDir)
		if err != nil {
			return fmt.Errorf("init pebble: %w", err)
		}
		defer ps.Close()
		st = ps
	default:
		st = store.NewMemoryStore()
	}

	// Init snapshotter and manifest (filesystem by default)
	snap := snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir)
	maniFS := manifest.NewFilesystemManifest(cfg.SnapshotDir)
	var mani manifest.Publisher = maniFS
	var maniReader restore.Reader = restore.NewFilesystemReader(cfg.SnapshotDir)
	if (cfg.ManifestSink == "kafka" || cfg.ManifestSink == "both") && cfg.KafkaBootstrap != "" {
		maniK := manifest.NewKafkaManifest(cfg.KafkaBootstrap, cfg.TopicSnapshots, restore.ManifestKey)
		if cfg.ManifestSink == "kafka" {
			mani = maniK
		} else {
			mani = manifest.MultiPublisher(maniFS, maniK)
		}
		if cfg.ManifestSource == "kafka" {
			maniReader = restore.NewKafkaReader([]string{cfg.KafkaBootstrap}, cfg.TopicSnapshots, restore.ManifestKey)
		}
	}

	// Init audit writer (file by default; kafka optional)
	var aw audit.Writer
	if cfg.AuditOn {
		if cfg.AuditSink == "file" || cfg.AuditSink == "both" || cfg.AuditSink == "" {
			fw, err := audit.NewFileWriter("./audit", "stockd.jsonl")
			if err != nil {
				return fmt.Errorf("init audit file: %w", err)
			}
			aw = fw
		}
		if (cfg.AuditSink == "kafka" || cfg.AuditSink == "both") && cfg.KafkaBootstrap != "" {
			kw := audit.NewKafkaWriter(cfg.KafkaBootstrap, cfg.TopicAudit)
			if aw == nil {
				aw = kw
			} else {
				aw = audit.NewMultiWriter(aw, kw)
			}
		}
	}
	var counting *audit.CountingWriter
	if aw != nil {
		counting = audit.NewCountingWriter(aw)
		aw = counting
	}

	rec := reconcile.New(st, reconcile.Config{Mode: mode, Audit: aw})

	// Prometheus metrics registry, HTTP for health/metrics
	mreg := metrics.NewRegistry()
	go func() {
		http.Handle("/metrics", mreg.Handler())
		http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		})
		_ = http.ListenAndServe(cfg.HTTPAddr, nil)
	}()

	writeSnapshot := func() error {
		id := time.Now().UTC().Format(time.RFC3339)
		if err := snap.WriteSnapshot(id, st); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		var off int64
		if counting != nil {
			off = counting.Count()
		}
		if err := mani.PublishLatest(id, off); err != nil {
			return fmt.Errorf("publish manifest: %w", err)
		}
		log.Printf("snapshot and manifest published: %s auditOffset=%d", id, off)
		return nil
	}

	handle := func(ev model.OrderEvent) error {
		dir, ok := ev.Direction()
		if !ok {
			log.Printf("order %s: unknown event %q, skipping", ev.OrderID, ev.Event)
			return nil
		}
		t0 := time.Now()
		res, err := rec.AdjustStockForOrder(ev.Order, dir)
		if err != nil {
			return fmt.Errorf("reconcile order %s: %w", ev.OrderID, err)
		}
		mreg.ReconcileLatencySec.Observe(time.Since(t0).Seconds())
		mreg.ItemsApplied.Add(float64(res.Applied))
		mreg.ItemsSkipped.Add(float64(res.Skipped))
		mreg.OversellClamped.Add(float64(res.Clamped))
		if counting != nil {
			mreg.AuditAppended.Add(float64(res.Applied)) // at least one record per applied item
		}
		log.Printf("order %s %s: items=%d applied=%d skipped=%d clamped=%d",
			ev.OrderID, ev.Event, res.Items, res.Applied, res.Skipped, res.Clamped)
		return nil
	}

	if cfg.InputSource == "kafka" && cfg.KafkaBootstrap != "" {
		c, err := ck.NewConsumer(&ck.ConfigMap{
			"bootstrap.servers":  cfg.KafkaBootstrap,
			"group.id":           cfg.GroupID,
			"enable.auto.commit": false,
			"isolation.level":    "read_committed",
			"auto.offset.reset":  "earliest",
		})
		if err != nil {
			return fmt.Errorf("consumer: %w", err)
		}
		defer c.Close()
		if err := c.SubscribeTopics([]string{cfg.TopicEvents}, nil); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		lastSnapshot := time.Now()
		for {
			msg, err := c.ReadMessage(5 * time.Second)
			if err == nil {
				var ev model.OrderEvent
				if err := json.Unmarshal(msg.Value, &ev); err != nil {
					log.Printf("bad order event at %v: %v", msg.TopicPartition, err)
				} else if err := handle(ev); err != nil {
					return err
				}
				if _, err := c.Commit(); err != nil {
					log.Printf("commit: %v", err)
				}
			}
			if cfg.SnapshotInterval > 0 && time.Since(lastSnapshot) >= time.Duration(cfg.SnapshotInterval)*time.Second {
				if err := writeSnapshot(); err != nil {
					return err
				}
				lastSnapshot = time.Now()
			}
		}
	}

	// Sample mode: seed a small catalog and run built-in transitions.
	if err := seedSample(st); err != nil {
		return fmt.Errorf("seed sample: %w", err)
	}
	sample := []model.OrderEvent{
		{OrderID: "o1", Event: model.EventPlaced, TS: 1694500000, Order: model.Order{
			"orderId": "o1", "item1": "Widget x 3", "item2": "Mug (2)", "item3": "Shirt [02]",
		}},
		{OrderID: "o2", Event: model.EventPlaced, TS: 1694500010, Order: model.Order{
			"orderId": "o2", "item1": "Widget x 9", "item2": "No Such Thing x 2",
		}},
		{OrderID: "o1", Event: model.EventCancelled, TS: 1694500020, Order: model.Order{
			"orderId": "o1", "item1": "Widget x 3", "item2": "Mug (2)", "item3": "Shirt [02]",
		}},
	}
	for _, ev := range sample {
		if err := handle(ev); err != nil {
			return err
		}
	}

	if err := writeSnapshot(); err != nil {
		return err
	}

	// Self-check: restore into a fresh store and replay.
	log.Printf("testing restore and replay...")
	restorer := restore.NewRestorer(store.NewMemoryStore(), maniReader, cfg.SnapshotDir)
	result, err := restorer.RestoreAndReplay()
	if err != nil {
		log.Printf("restore failed: %v", err)
	} else {
		log.Printf("restore completed: applied=%d skipped=%d", result.Applied, result.Skipped)
	}

	log.Printf("stockd sample run completed. Exiting.")
	return nil
}

// seedSample loads the demo catalog: one product with a master stock field,
// one without, one with two variants.
func seedSample(st store.Store) error {
	master := model.Quantity(50)
	products := map[string]model.Product{
		"p1": {Name: "Widget", Stock: &master},
		"p2": {Name: "Mug"},
		"p3": {Name: "Shirt"},
	}
	for id, p := range products {
		if err := st.PutProduct(id, p); err != nil {
			return err
		}
	}
	entries := map[string]map[string]model.StockEntry{
		"p1": {"01": {Quantity: 10}},
		"p2": {"01": {Quantity: 8}},
		"p3": {"01": {Quantity: 5}, "02": {Quantity: 7}},
	}
	for pid, variants := range entries {
		for vid, e := range variants {
			if err := st.PutStockEntry(pid, vid, e); err != nil {
				return err
			}
		}
	}
	return nil
}
