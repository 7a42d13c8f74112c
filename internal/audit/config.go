package audit

import (
	"time"

	"github.com/mergington/activities/internal/config"
)

// ShipperConfigs converts the viper-loaded audit section into shipper configs.
func ShipperConfigs(cfg config.AuditConfig) []ShipperConfig {
	out := make([]ShipperConfig, 0, len(cfg.Shippers))
	for _, s := range cfg.Shippers {
		sc := ShipperConfig{Enabled: s.Enabled, Type: s.Type}
		if s.Webhook != nil {
			sc.Webhook = &WebhookConfig{
				URL:           s.Webhook.URL,
				Headers:       s.Webhook.Headers,
				Timeout:       time.Duration(s.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     s.Webhook.BatchSize,
				FlushInterval: time.Duration(s.Webhook.FlushInterval) * time.Second,
			}
		}
		if s.File != nil {
			sc.File = &FileConfig{
				Path:       s.File.Path,
				MaxSizeMB:  s.File.MaxSizeMB,
				MaxBackups: s.File.MaxBackups,
			}
		}
		if s.S3 != nil {
			sc.S3 = &S3Config{
				Bucket:          s.S3.Bucket,
				Region:          s.S3.Region,
				Endpoint:        s.S3.Endpoint,
				Prefix:          s.S3.Prefix,
				AuthMethod:      s.S3.AuthMethod,
				AccessKeyID:     s.S3.AccessKeyID,
				SecretAccessKey: s.S3.SecretAccessKey,
				RoleARN:         s.S3.RoleARN,
				RoleSessionName: s.S3.RoleSessionName,
				ExternalID:      s.S3.ExternalID,
				BatchSize:       s.S3.BatchSize,
				FlushInterval:   time.Duration(s.S3.FlushInterval) * time.Second,
			}
		}
		if s.Kafka != nil {
			sc.Kafka = &KafkaConfig{
				Brokers:                s.Kafka.Brokers,
				Topic:                  s.Kafka.Topic,
				BatchTimeout:           time.Duration(s.Kafka.BatchTimeoutMs) * time.Millisecond,
				AllowAutoTopicCreation: s.Kafka.AllowAutoTopicCreation,
			}
		}
		out = append(out, sc)
	}
	return out
}
