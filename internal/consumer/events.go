package consumer

import (
	"github.com/aws/aws-lambda-go/events"
	"github.com/tidwall/gjson"

	"slackgate/internal/domain"
)

// FromSNSEvent turns an SNS Lambda event into a batch.
func FromSNSEvent(e events.SNSEvent) domain.Batch {
	batch := make(domain.Batch, 0, len(e.Records))
	for _, r := range e.Records {
		batch = append(batch, domain.Record{ID: r.SNS.MessageID, Message: []byte(r.SNS.Message)})
	}
	return batch
}

// FromSQSEvent turns an SQS Lambda event into a batch. Bodies that are SNS
// notification envelopes (subscriptions without raw message delivery) are
// unwrapped to the published message.
func FromSQSEvent(e events.SQSEvent) domain.Batch {
	batch := make(domain.Batch, 0, len(e.Records))
	for _, r := range e.Records {
		msg := []byte(r.Body)
		if env := gjson.Parse(r.Body); env.Get("Type").String() == "Notification" && env.Get("Message").Exists() {
			msg = []byte(env.Get("Message").String())
		}
		batch = append(batch, domain.Record{ID: r.MessageId, Message: msg})
	}
	return batch
}

// SQSResponse reports failed records so SQS redelivers only those.
func (r Report) SQSResponse() events.SQSEventResponse {
	var resp events.SQSEventResponse
	for _, res := range r.Results {
		if res.Err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: res.ID})
		}
	}
	return resp
}
