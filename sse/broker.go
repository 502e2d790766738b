/*
The MIT License (MIT)

Copyright (c) 2017-2021 Ismael Celis and contributors

Permission is hereby granted, free of charge, to any person obtaining a copy of
this software and associated documentation files (the "Software"), to deal in
the Software without restriction, including without limitation the rights to
use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
the Software, and to permit persons to whom the Software is furnished to do so,
subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

package sse

import (
	"context"
	"io"
	"time"

	"github.com/computersciencehouse/quickpoll/logging"
	"github.com/gin-gonic/gin"
)

const patience time.Duration = time.Second * 1

// TopicPolls carries the id of every newly created poll.
const TopicPolls = "polls"

type (
	NotificationEvent struct {
		EventName string
		Payload   interface{}
	}

	NotifierChan chan NotificationEvent

	Broker struct {

		// Events are pushed to this channel by the main events-gathering routine
		Notifier NotifierChan

		// New client connections
		newClients chan NotifierChan

		// Closed client connections
		closingClients chan NotifierChan

		// Client connections registry
		clients map[NotifierChan]struct{}

		// Closed once Listen returns
		stopped chan struct{}
	}
)

func NewBroker() (broker *Broker) {
	// Instantiate a broker
	return &Broker{
		Notifier:       make(NotifierChan, 16),
		newClients:     make(chan NotifierChan),
		closingClients: make(chan NotifierChan),
		clients:        make(map[NotifierChan]struct{}),
		stopped:        make(chan struct{}),
	}
}

// Publish queues an event for every client subscribed to topic. It gives up
// after patience so a stalled broker never holds up a request.
func (broker *Broker) Publish(topic string, payload interface{}) bool {
	select {
	case broker.Notifier <- NotificationEvent{EventName: topic, Payload: payload}:
		return true
	case <-time.After(patience):
		logging.For("sse").WithField("topic", topic).Warn("dropping event, broker is busy")
		return false
	}
}

func (broker *Broker) ServeHTTP(c *gin.Context) {
	eventName := c.Param("topic")

	// Each connection registers its own message channel with the Broker's connections registry
	messageChan := make(NotifierChan)

	// Signal the broker that we have a new connection
	select {
	case broker.newClients <- messageChan:
	case <-broker.stopped:
		c.AbortWithStatus(503)
		return
	}

	// Remove this client from the map of connected clients
	// when this handler exits.
	defer func() {
		select {
		case broker.closingClients <- messageChan:
		case <-broker.stopped:
		}
	}()

	// Send headers right away so clients see the stream open before the first event
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(200)
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case <-broker.stopped:
			return false
		case event := <-messageChan:
			if event.EventName == eventName {
				c.SSEvent(event.EventName, event.Payload)
				// Flush the data immediately instead of buffering it for later.
				c.Writer.Flush()
			}
			return true
		}
	})
}

// Listen for new notifications and redistribute them to clients until ctx is done
func (broker *Broker) Listen(ctx context.Context) {
	log := logging.For("sse")
	defer close(broker.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-broker.newClients:

			// A new client has connected.
			// Register their message channel
			broker.clients[s] = struct{}{}
			log.Debugf("Client added. %d registered clients", len(broker.clients))
		case s := <-broker.closingClients:

			// A client has dettached and we want to
			// stop sending them messages.
			delete(broker.clients, s)
			log.Debugf("Removed client. %d registered clients", len(broker.clients))
		case event := <-broker.Notifier:

			// We got a new event from the outside!
			// Send event to all connected clients
			for clientMessageChan := range broker.clients {
				select {
				case clientMessageChan <- event:
				case <-time.After(patience):
					log.Warn("Skipping client.")
				}
			}
		}
	}
}
