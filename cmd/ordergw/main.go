// ordergw bridges raw checkout output to the order-events topic the stock
// daemon consumes: it validates and normalizes each event, then republishes
// it under exactly-once semantics so a transition is never delivered to the
// reconciler both before and after a gateway crash.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"time"

	"stocksync/internal/model"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

func main() {
	var (
		bootstrap string
		groupID   string
		topicIn   string
		topicOut  string
		txID      string
		crashMode string // before|mid|after|none
	)
	flag.StringVar(&bootstrap, "bootstrap", "localhost:19092", "kafka bootstrap servers")
	flag.StringVar(&groupID, "group-id", "ordergw", "consumer group id")
	flag.StringVar(&topicIn, "topic-in", "inv.orders.raw", "input topic")
	flag.StringVar(&topicOut, "topic-out", "inv.order-events", "output topic")
	flag.StringVar(&txID, "tx-id", "ordergw-local-1", "transactional id")
	flag.StringVar(&crashMode, "crash-mode", "none", "before|mid|after|none")
	flag.Parse()

	runGateway(bootstrap, groupID, topicIn, topicOut, txID, crashMode)
}

func runGateway(bootstrap, groupID, topicIn, topicOut, txID, crashMode string) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		log.Fatalf("producer: %v", err)
	}
	defer p.Close()

	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		log.Fatalf("consumer: %v", err)
	}
	defer c.Close()

	if err := c.SubscribeTopics([]string{topicIn}, nil); err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	if err := p.InitTransactions(context.TODO()); err != nil {
		log.Fatalf("init tx: %v", err)
	}
	log.Printf("ordergw started bootstrap=%s in=%s out=%s", bootstrap, topicIn, topicOut)

	for {
		if err := p.BeginTransaction(); err != nil {
			log.Fatalf("begin tx: %v", err)
		}

		msg, err := c.ReadMessage(10 * time.Second)
		if err != nil {
			_ = p.AbortTransaction(context.TODO())
			continue
		}

		var ev model.OrderEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			_ = p.AbortTransaction(context.TODO())
			continue
		}
		norm := model.Normalize(ev)
		if !norm.Validated {
			log.Printf("order %s: unrecognized event %q", norm.OrderID, norm.Event)
		}
		val, _ := json.Marshal(norm)

		if err := p.Produce(&ck.Message{TopicPartition: ck.TopicPartition{Topic: &topicOut, Partition: ck.PartitionAny}, Key: []byte(norm.OrderID), Value: val}, nil); err != nil {
			_ = p.AbortTransaction(context.TODO())
			continue
		}

		// crash matrix simulation
		if crashMode == "before" {
			log.Fatal("crash before commit")
		}

		// SendOffsetsToTransaction binds consumer offsets atomically
		offsets, _ := c.Commit() // get current offsets synchronously (not committed to broker)
		meta, _ := c.GetConsumerGroupMetadata()
		if err := p.SendOffsetsToTransaction(context.Background(), offsets, meta); err != nil {
			_ = p.AbortTransaction(context.TODO())
			continue
		}

		if crashMode == "mid" {
			time.Sleep(2 * time.Second)
			log.Fatal("crash mid commit")
		}

		_ = p.Flush(5000)
		if err := p.CommitTransaction(context.TODO()); err != nil {
			_ = p.AbortTransaction(context.TODO())
			continue
		}

		if crashMode == "after" {
			log.Fatal("crash after commit")
		}
	}
}
