package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"fern-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	TLSMinVersion                 string   `env:"HTTP_SERVER_TLS_MIN_VERSION" env-default:"TLS_1_2"`
	TLSMaxVersion                 string   `env:"HTTP_SERVER_TLS_MAX_VERSION" env-default:"TLS_1_2"`
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (Ingest Database)
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:""`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseReconnectRetryCount   int           `env:"DB_RECONNECT_RETRY_COUNT" env-default:"3"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Graph Database (target repository)
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Redis (job queue, delayed retries, scheduler locks)
	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Queue
	QueueStream          string        `env:"QUEUE_STREAM" env-default:"fern:jobs"`
	QueueConsumerGroup   string        `env:"QUEUE_CONSUMER_GROUP" env-default:"fern-workers"`
	QueueWorkerCount     int           `env:"QUEUE_WORKER_COUNT" env-default:"4"`
	QueueBatchSize       int           `env:"QUEUE_BATCH_SIZE" env-default:"10"`
	QueueMaxRetries      int           `env:"QUEUE_MAX_RETRIES" env-default:"3"`
	QueueClaimMinIdle    time.Duration `env:"QUEUE_CLAIM_MIN_IDLE" env-default:"1m"`
	QueueClaimInterval   time.Duration `env:"QUEUE_CLAIM_INTERVAL" env-default:"30s"`
	QueueDelayedKey      string        `env:"QUEUE_DELAYED_KEY" env-default:"fern:jobs:delayed"`
	QueueDelayedInterval time.Duration `env:"QUEUE_DELAYED_INTERVAL" env-default:"1s"`

	// Scheduler (recurring importer runs)
	SchedulerEnabled      bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerPollInterval time.Duration `env:"SCHEDULER_POLL_INTERVAL" env-default:"30s"`
	SchedulerLockTTL      time.Duration `env:"SCHEDULER_LOCK_TTL" env-default:"1m"`

	// Auth
	AuthEnabled   bool   `env:"AUTH_ENABLED" env-default:"false"`
	AuthIssuerURL string `env:"AUTH_ISSUER_URL" env-default:""`
	AuthClientID  string `env:"AUTH_CLIENT_ID" env-default:""`

	// Kafka Producer (lifecycle events)
	KafkaBrokers      []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaOutputTopic  string   `env:"KAFKA_OUTPUT_TOPIC" env-default:"ingest-events"`
	KafkaBatchSize    int      `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int      `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int      `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string   `env:"KAFKA_COMPRESSION" env-default:"snappy"`
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" env-default:"true"`

	// Metadata defaults, applied when a source record omits them
	IdentifierColumn       string   `env:"IDENTIFIER_COLUMN" env-default:"source_identifier"`
	DefaultVisibility      string   `env:"DEFAULT_VISIBILITY" env-default:"open"`
	DefaultRightsStatement []string `env:"DEFAULT_RIGHTS_STATEMENT" env-default:""`
	DefaultAdminSetID      string   `env:"DEFAULT_ADMIN_SET_ID" env-default:""`

	// Processing
	RelationshipRetryDelay    time.Duration `env:"RELATIONSHIP_RETRY_DELAY" env-default:"30s"`
	RelationshipMaxAttempts   int           `env:"RELATIONSHIP_MAX_ATTEMPTS" env-default:"5"`
	ImportBatchSize           int           `env:"IMPORT_BATCH_SIZE" env-default:"100"`
	FileFetchTimeout          time.Duration `env:"FILE_FETCH_TIMEOUT" env-default:"2m"`
	FileFetchMaxBytes         int64         `env:"FILE_FETCH_MAX_BYTES" env-default:"524288000"` // 500MB
	FileReplaceEnabled        bool          `env:"FILE_REPLACE_ENABLED" env-default:"false"`
	FileUpdateEnabled         bool          `env:"FILE_UPDATE_ENABLED" env-default:"true"`
	IncrementalImportsEnabled bool          `env:"INCREMENTAL_IMPORTS_ENABLED" env-default:"true"`
}
