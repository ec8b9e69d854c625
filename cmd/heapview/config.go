package main

import (
	"github.com/ilyakaznacheev/cleanenv"
)

type (
	ServiceConfig struct {
		Environment string `env:"HEAPVIEW_ENVIRONMENT" env-default:"development"`

		SentryDSN string `env:"HEAPVIEW_SENTRY_DSN"`
		LogLevel  string `env:"HEAPVIEW_LOG_LEVEL" env-default:"info"`

		// Bucket URLs, as understood by gocloud.dev/blob: file://, gs:// or mem://.
		InputBucket  string `env:"HEAPVIEW_INPUT_BUCKET" env-default:"file:///var/lib/heapview/snapshots"`
		OutputBucket string `env:"HEAPVIEW_OUTPUT_BUCKET" env-default:"file:///var/lib/heapview/results"`

		// No summary is published when no broker is set.
		KafkaBrokers []string `env:"HEAPVIEW_KAFKA_BROKERS" env-separator:","`
		KafkaTopic   string   `env:"HEAPVIEW_KAFKA_TOPIC" env-default:"heapview-summaries"`

		SpeedscopeMetric string `env:"HEAPVIEW_SPEEDSCOPE_METRIC" env-default:"leaked"`
	}
)

func newServiceConfig() (ServiceConfig, error) {
	var c ServiceConfig
	err := cleanenv.ReadEnv(&c)
	return c, err
}
