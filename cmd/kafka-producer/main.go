package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/chessarcade/leaderboard/internal/domain"
	"github.com/chessarcade/leaderboard/internal/registry"
)

// submission mirrors the JSON accepted by POST /scores
type submission struct {
	Game        string         `json:"game"`
	PlayerName  string         `json:"player_name"`
	Score       int64          `json:"score"`
	Level       string         `json:"level,omitempty"`
	TimeMS      int64          `json:"time_ms,omitempty"`
	CountryCode string         `json:"country_code,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

var playerPrefixes = []string{
	"Bishop", "Rook", "Pawn", "Castle", "Gambit", "Fianchet", "Zugzwang", "Tempo", "Fork", "Pin",
	"Skewer", "Check", "Mate", "Rank", "File", "Sicilian", "Caro", "Ruy", "Nimzo", "Grunfeld",
}

var countries = []string{"AR", "ES", "MX", "US", "DE", "FR", "BR", "IN", "NO", "CL"}

func playerName(idx int) string {
	prefix := playerPrefixes[idx%len(playerPrefixes)]
	return fmt.Sprintf("%s%d", prefix, idx/len(playerPrefixes)+1)
}

// randomSubmission builds a submission that passes validation for game
func randomSubmission(r *rand.Rand, game domain.GameLimits, playerIdx int) submission {
	// better-ranked players score higher so the top of the board moves
	ceiling := game.MaxScore
	if playerIdx >= 20 {
		ceiling = game.MaxScore / 2
	}
	sub := submission{
		Game:        game.ID,
		PlayerName:  playerName(playerIdx),
		Score:       r.Int63n(ceiling + 1),
		CountryCode: countries[playerIdx%len(countries)],
		Metadata:    map[string]any{"source": "kafka-producer"},
	}
	if game.HasLevels {
		sub.Level = string(domain.Levels[r.Intn(len(domain.Levels))])
	}
	if game.HasTime {
		sub.TimeMS = r.Int63n(game.MaxTimeMS/10) + 1000
	}
	return sub
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "chess-arcade-scores", "Kafka topic")
	gamesFlag := flag.String("games", "", "Games to submit for (comma-separated, default all)")
	totalPlayers := flag.Int("players", 200, "Number of distinct players")
	updatesPerSecond := flag.Int("rate", 50, "Submissions per second")
	initialCount := flag.Int("initial", 500, "Submissions to send before the rate-limited phase")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	initialOnly := flag.Bool("initial-only", false, "Only send the initial submissions")
	flag.Parse()

	if *totalPlayers < 1 || *updatesPerSecond < 1 {
		log.Fatal("players and rate must be positive")
	}

	reg := registry.Default()
	var games []domain.GameLimits
	if *gamesFlag == "" {
		games = reg.Games()
	} else {
		for _, id := range strings.Split(*gamesFlag, ",") {
			g, ok := reg.Game(strings.TrimSpace(id))
			if !ok {
				log.Fatalf("unknown game %q, must be one of: %s", id, strings.Join(reg.IDs(), ", "))
			}
			games = append(games, g)
		}
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Chess Arcade score producer")
	fmt.Printf("  Brokers:    %s\n", *brokers)
	fmt.Printf("  Topic:      %s\n", *topic)
	fmt.Printf("  Games:      %d\n", len(games))
	fmt.Printf("  Players:    %d\n", *totalPlayers)
	fmt.Printf("  Rate:       %d/sec\n", *updatesPerSecond)
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount, sentCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	finish := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Acked: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	send := func() {
		game := games[r.Intn(len(games))]
		sub := randomSubmission(r, game, r.Intn(*totalPlayers))
		data, err := json.Marshal(sub)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}
		producer.Input() <- &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(sub.Game),
			Value: sarama.ByteEncoder(data),
		}
		atomic.AddInt64(&sentCount, 1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("Sending %d initial submissions...\n", *initialCount)
	for i := 0; i < *initialCount; i++ {
		select {
		case <-sigChan:
			finish("Interrupted")
			return
		default:
		}
		send()
	}

	if *initialOnly {
		finish("Initial-only mode")
		return
	}

	fmt.Println("Sending continuous submissions, press Ctrl+C to stop")

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	for {
		select {
		case <-sigChan:
			finish("Shutting down...")
			return
		case <-deadline:
			finish("Duration reached, shutting down...")
			return
		case <-ticker.C:
			send()
		case <-statsTicker.C:
			fmt.Printf("[%s] Sent: %d | Acked: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sentCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
