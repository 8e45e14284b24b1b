package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Notification tells the downstream importer where a record was written
type Notification struct {
	FilePath             string `json:"file_path"`
	Bucket               string `json:"bucket"`
	JurisdictionID       string `json:"jurisdiction_id"`
	JurisdictionName     string `json:"jurisdiction_name"`
	FileArchivingEnabled bool   `json:"file_archiving_enabled"`
}

// Notifier enqueues notifications (fire and forget)
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// SQSNotifier sends notifications to an SQS queue with a delivery delay
type SQSNotifier struct {
	client   *sqs.Client
	queueURL string
	delay    time.Duration
}

// NewSQSNotifier creates a notifier from an AWS configuration
func NewSQSNotifier(awsCfg aws.Config, queueURL string, delay time.Duration, optFns ...func(*sqs.Options)) *SQSNotifier {
	return &SQSNotifier{
		client:   sqs.NewFromConfig(awsCfg, optFns...),
		queueURL: queueURL,
		delay:    delay,
	}
}

func (q *SQSNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(q.delay / time.Second),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Title":  {DataType: aws.String("String"), StringValue: aws.String("S3 Output Path")},
			"Author": {DataType: aws.String("String"), StringValue: aws.String("legiscrape")},
		},
	})
	if err != nil {
		return fmt.Errorf("send notification for %s: %w", n.FilePath, err)
	}
	return nil
}
