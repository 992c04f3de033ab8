package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/infrastructure/kinesis"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logging"
	"github.com/example/ec-fulfillment/internal/projection"
	"github.com/rs/zerolog"
)

var (
	projector *projection.Projector
	log       zerolog.Logger
)

func init() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "json"})
	log = logging.Component("lambda-projector")

	db, err := store.ConnectPostgres(context.Background(), cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load aws config")
	}
	// Shard reordering can leave gaps; the projector backfills them from the table.
	source := store.NewDynamoEventStore(dynamodb.NewFromConfig(awsCfg), cfg.EventStore.DynamoTable, cfg.EventStore.DynamoSnapshotTable)
	projector = projection.NewProjector(store.NewPostgresReadStore(db), source)
	log.Info().Msg("initialized")
}

func handler(ctx context.Context, batch events.KinesisEvent) (events.KinesisEventResponse, error) {
	res := kinesis.ProcessBatch(ctx, batch, projector.Apply)
	for _, err := range res.Errors {
		log.Error().Err(err).Msg("record failed")
	}
	log.Info().
		Int("records", len(batch.Records)).
		Int("applied", res.Applied).
		Int("skipped", res.Skipped).
		Int("failed", len(res.Failures)).
		Msg("batch processed")

	return events.KinesisEventResponse{BatchItemFailures: res.Failures}, nil
}

func main() {
	lambda.Start(handler)
}
