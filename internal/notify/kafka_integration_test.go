//go:build integration

package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"custodia/internal/notify"
	"custodia/pkg/testutil/containers"
)

const testTopic = "custody.notifications"

type KafkaNotifierSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
	notifier *notify.KafkaNotifier
	consumer *kgo.Client
	ctx      context.Context
}

func TestKafkaNotifierSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaNotifierSuite))
}

func (s *KafkaNotifierSuite) SetupSuite() {
	s.redpanda = containers.NewRedpandaContainer(s.T())
	s.ctx = context.Background()

	admin, err := kgo.NewClient(kgo.SeedBrokers(s.redpanda.Seed))
	s.Require().NoError(err)
	defer admin.Close()
	_, err = kadm.NewClient(admin).CreateTopics(s.ctx, 1, 1, nil, testTopic)
	s.Require().NoError(err)

	notifier, err := notify.NewKafka([]string{s.redpanda.Seed}, testTopic)
	s.Require().NoError(err)
	s.notifier = notifier

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Seed),
		kgo.ConsumeTopics(testTopic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	s.consumer = consumer
}

func (s *KafkaNotifierSuite) TearDownSuite() {
	s.notifier.Close()
	s.consumer.Close()
	_ = s.redpanda.Container.Terminate(s.ctx)
}

type envelope struct {
	Event      string          `json:"event"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (s *KafkaNotifierSuite) nextRecord() *kgo.Record {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	fetches := s.consumer.PollFetches(ctx)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().NotEmpty(records)
	return records[0]
}

func (s *KafkaNotifierSuite) TestCodeIssuedRoundTrip() {
	expires := time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second)
	s.Require().NoError(s.notifier.CodeIssued(s.ctx, notify.CodeIssued{
		PackageID: "pkg-1",
		Code:      "123456",
		ExpiresAt: expires,
	}))

	record := s.nextRecord()
	s.Equal("pkg-1", string(record.Key), "records are keyed by package id")

	var env envelope
	s.Require().NoError(json.Unmarshal(record.Value, &env))
	s.Equal("custody.code_issued", env.Event)
	s.False(env.OccurredAt.IsZero())

	var payload notify.CodeIssued
	s.Require().NoError(json.Unmarshal(env.Payload, &payload))
	s.Equal("123456", payload.Code)
	s.True(expires.Equal(payload.ExpiresAt))
}

func (s *KafkaNotifierSuite) TestPackageDeliveredRoundTrip() {
	delivered := time.Now().UTC().Truncate(time.Second)
	s.Require().NoError(s.notifier.PackageDelivered(s.ctx, notify.PackageDelivered{
		PackageID:   "pkg-2",
		DeliveredAt: delivered,
	}))

	record := s.nextRecord()
	s.Equal("pkg-2", string(record.Key))

	var env envelope
	s.Require().NoError(json.Unmarshal(record.Value, &env))
	s.Equal("custody.package_delivered", env.Event)

	var payload notify.PackageDelivered
	s.Require().NoError(json.Unmarshal(env.Payload, &payload))
	s.True(delivered.Equal(payload.DeliveredAt))
}
