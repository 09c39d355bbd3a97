package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

type Config struct {
	HTTPAddr    string
	CORSOrigins []string
	LogMode     string

	PostgresURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers         []string
	KafkaCompletionTopic string
	KafkaGroupID         string

	MLServiceURL       string
	ModelWrapperURL    string
	ExtentGeneratorURL string
	HTTPTimeout        time.Duration

	OverpassURL     string
	OverpassTimeout time.Duration

	RasterDir  string
	Covariates []string

	ExpertWeightingSchedule string
	AutomaticRunSchedule    string

	MLTrainingWindow time.Duration
	SaveTrainingData bool
	CompletionQueue  int
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) Config {
	_ = godotenv.Load(envFiles...)

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		CORSOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		LogMode:     getenv("LOG_MODE", "development"),

		PostgresURL: os.Getenv("POSTGRES_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       cast.ToInt(getenv("REDIS_DB", "0")),

		KafkaBrokers:         splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaCompletionTopic: getenv("KAFKA_COMPLETION_TOPIC", "model-run-completions"),
		KafkaGroupID:         getenv("KAFKA_GROUP_ID", "surveillance-service"),

		MLServiceURL:       getenv("ML_SERVICE_URL", "http://localhost:8081/ml"),
		ModelWrapperURL:    getenv("MODEL_WRAPPER_URL", "http://localhost:8082/modelwrapper"),
		ExtentGeneratorURL: getenv("EXTENT_GENERATOR_URL", "http://localhost:8083/datamanager"),
		HTTPTimeout:        cast.ToDuration(getenv("HTTP_TIMEOUT", "30s")),

		OverpassURL:     getenv("OVERPASS_URL", "https://overpass-api.de/api/interpreter"),
		OverpassTimeout: cast.ToDuration(getenv("OVERPASS_TIMEOUT", "25s")),

		RasterDir:  os.Getenv("RASTER_DIR"),
		Covariates: splitList(getenv("COVARIATES", "upr_u,upr_p,access,evi")),

		ExpertWeightingSchedule: getenv("EXPERT_WEIGHTING_SCHEDULE", "0 0 2 * * *"),
		AutomaticRunSchedule:    getenv("AUTOMATIC_RUN_SCHEDULE", "0 30 3 * * *"),

		MLTrainingWindow: time.Duration(cast.ToInt(getenv("ML_TRAINING_WINDOW_DAYS", "365"))) * 24 * time.Hour,
		SaveTrainingData: cast.ToBool(getenv("SAVE_TRAINING_DATA", "false")),
		CompletionQueue:  cast.ToInt(getenv("COMPLETION_QUEUE_SIZE", "64")),
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
