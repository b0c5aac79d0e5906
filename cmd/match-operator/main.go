// The match-operator console drives a match over the control topic: it
// starts the game, publishes one tick per second until the countdown runs
// out, then finishes the match. It can also mint printable QR payloads.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/qrmaster/internal/domain"
	"github.com/qrmaster/internal/kafka"
	"github.com/qrmaster/internal/qr"
)

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-control", "Kafka control topic")
	countdown := flag.Int("countdown", domain.DefaultTimeRemaining, "Match length in seconds")
	qrCount := flag.Int("qrcodes", 0, "Print N QR payloads per category and exit")
	flag.Parse()

	if *qrCount > 0 {
		printPayloads(*qrCount)
		return
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🏁 Match Operator Console")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  Countdown:   %ds\n", *countdown)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sendEvent := func(action string, timeRemaining int) {
		event := kafka.ControlEvent{Action: action, TimeRemaining: timeRemaining}
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Value: sarama.ByteEncoder(data),
		}
	}

	shutdown := func(action string, remaining int) {
		sendEvent(action, remaining)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	fmt.Printf("Starting match, %d seconds on the clock\n", *countdown)
	fmt.Println("Press Ctrl+C to finish the match early")
	fmt.Println()
	sendEvent(kafka.ActionStart, *countdown)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := *countdown
	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nFinishing match early...")
			shutdown(kafka.ActionFinish, 0)
			return

		case <-ticker.C:
			remaining--
			if remaining <= 0 {
				fmt.Println("\nTime is up, finishing match")
				shutdown(kafka.ActionFinish, 0)
				return
			}
			sendEvent(kafka.ActionTick, remaining)
			if remaining%30 == 0 {
				fmt.Printf("[%s] %d seconds remaining\n", time.Now().Format("15:04:05"), remaining)
			}
		}
	}
}

// printPayloads mints n fresh payloads per category, ready for QR printing.
func printPayloads(n int) {
	categories := []domain.Category{
		domain.CategoryVerde,
		domain.CategoryLaranja,
		domain.CategoryVermelho,
	}
	for _, category := range categories {
		fmt.Printf("# %s (%d points)\n", category, category.Points())
		for i := 0; i < n; i++ {
			fmt.Println(qr.Encode(category, uuid.New().String()))
		}
		fmt.Println()
	}
}
