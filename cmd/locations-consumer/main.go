package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/alexitico1989/gruapp-sub003/internal/ingest"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total operator location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if env := os.Getenv("KAFKA_BROKERS"); env != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(env, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "operator-locations"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "locations-consumer"
	}
	geoKey := os.Getenv("REDIS_GEO_KEY")
	if geoKey == "" {
		geoKey = "operators_geo"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr, Password: os.Getenv("REDIS_PASSWORD")})
	radapter := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var u ingest.LocationUpdate
		if err := json.Unmarshal(m.Value, &u); err != nil || u.OperatorID == "" {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		if err := updateRedisWithRetry(ctx, radapter, geoKey, &u, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Printf("redis update failed for operator=%s: %v", u.OperatorID, err)
			continue
		}
		redisUpdates.Inc()
	}
}

// RedisUpdater is the subset of redis operations the consumer needs,
// narrowed for tests.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	_, err := r.c.GeoAdd(ctx, key, loc).Result()
	return err
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateRedisWithRetry writes the position and availability flags with
// exponential backoff. The meta hash uses the same keys the API's
// presence mirror writes so readers see one schema.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, u *ingest.LocationUpdate, attempts int, delay time.Duration) error {
	for i := 0; i < attempts; i++ {
		if err := rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: u.Loc.Lon, Latitude: u.Loc.Lat, Name: u.OperatorID}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		if err := rc.HSet(ctx, "operator:meta:"+u.OperatorID, map[string]interface{}{
			"available": strconv.FormatBool(u.Available),
			"updated":   u.At.Format(time.RFC3339),
		}); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
