package app

import (
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer(nil, logger)

	if err != nil {
		t.Errorf("expected no error for empty brokers, got %v", err)
	}

	if producer != nil {
		t.Error("expected nil producer for empty brokers")
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	cfg := Config{KafkaBrokers: "invalid-broker:9999"}
	producer, err := initKafkaProducer(cfg.Brokers(), logger)

	if err == nil || !strings.Contains(err.Error(), "create kafka producer") {
		t.Errorf("expected wrapped producer error for invalid brokers, got %v", err)
	}

	if producer != nil {
		t.Error("expected nil producer on error")
	}
}

func TestCloseKafkaProducer_NilProducer(_ *testing.T) {
	logger := log.WithField("test", "kafka")

	// Не должно паниковать
	closeKafkaProducer(nil, logger)
	stopKafkaConsumer(nil, logger)
}

func TestConfigBrokers(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "single", raw: "localhost:9092", want: []string{"localhost:9092"}},
		{name: "with spaces", raw: "broker1:9092, broker2:9092 ,", want: []string{"broker1:9092", "broker2:9092"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Config{KafkaBrokers: tc.raw}.Brokers()
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			}
		})
	}
}
