package main

import (
	"context"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// gcpPublisher narrows *gcppubsub.Publisher to the publisher interface.
type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}

func (g gcpPublisher) ResumePublish(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}

func gcpPublisherFactory(client pubSubClient) publisherFactory {
	return func(topic string) publisher {
		return gcpPublisher{p: client.Publisher(topic)}
	}
}
