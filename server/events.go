package server

import (
	"context"
	"time"

	"github.com/computersciencehouse/quickpoll/database"
	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/computersciencehouse/quickpoll/polls"
	"github.com/computersciencehouse/quickpoll/sse"
)

const publishTimeout = 5 * time.Second

// Publisher turns committed poll changes into SSE events. It reads the tally
// back from the store instead of trusting anything the writer had in hand.
type Publisher struct {
	store  database.Store
	broker *sse.Broker
}

func NewPublisher(store database.Store, broker *sse.Broker) *Publisher {
	return &Publisher{store: store, broker: broker}
}

func (p *Publisher) PollCreated(pollId string) {
	go p.broker.Publish(sse.TopicPolls, pollId)
}

func (p *Publisher) PollChanged(pollId string) {
	go p.publishResults(pollId)
}

func (p *Publisher) publishResults(pollId string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	rec, err := p.store.GetPoll(ctx, pollId, "")
	if err != nil {
		logging.For("server").WithField("poll", pollId).WithError(err).Warn("failed to load results for broadcast")
		return
	}
	p.broker.Publish(pollId, polls.Project(*rec))
}
